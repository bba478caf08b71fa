// Package dtnd is the bundle-forwarding daemon's entrypoint: load
// configuration, open the persistent store, wire the timer subsystem,
// convergence layers, contact manager and router together, then run
// until an OS signal asks it to stop.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dtnd/dtnd/cla"
	"github.com/dtnd/dtnd/cla/loopback"
	"github.com/dtnd/dtnd/cmn"
	"github.com/dtnd/dtnd/cmn/cos"
	"github.com/dtnd/dtnd/cmn/eid"
	"github.com/dtnd/dtnd/cmn/nlog"
	"github.com/dtnd/dtnd/contact"
	"github.com/dtnd/dtnd/daemon"
	"github.com/dtnd/dtnd/hk"
	"github.com/dtnd/dtnd/router"
	"github.com/dtnd/dtnd/stats"
	"github.com/dtnd/dtnd/store"
)

var (
	build     string
	buildtime string

	configPath  string
	dbdir       string
	payloaddir  string
	localEID    string
	loopbackBps int64
)

func init() {
	flag.StringVar(&configPath, "config", "", "dtnd configuration file (overlays the flag defaults below)")
	flag.StringVar(&dbdir, "dbdir", "", "directory holding the persistent store's table files")
	flag.StringVar(&payloaddir, "payloaddir", "", "directory holding compressed bundle payload files")
	flag.StringVar(&localEID, "local-eid", "dtn://localhost", "this node's endpoint id")
	flag.Int64Var(&loopbackBps, "loopback-bps", 0, "loopback convergence layer throughput in bytes/sec (0 = unlimited)")
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	flag.Parse()

	if dbdir == "" || payloaddir == "" {
		cos.ExitLogf("dtnd: -dbdir and -payloaddir are required (or set them via -config)")
	}

	cfg := cmn.DefaultConfig(dbdir, payloaddir)
	if id, err := parseLocalEID(localEID); err == nil {
		cfg.LocalEID = id
	} else {
		cos.ExitLogf("dtnd: invalid -local-eid %q: %v", localEID, err)
	}
	if configPath != "" {
		if err := cmn.LoadConfig(configPath, cfg); err != nil {
			cos.ExitLogf("dtnd: failed to load configuration from %q: %v", configPath, err)
		}
	}

	dm, h, err := buildDaemon(cfg)
	if err != nil {
		cos.ExitLogf("dtnd: startup failed: %v", err)
	}
	nlog.Infof("dtnd %s (build %s): local eid %s, event queue hwm %d",
		build, buildtime, cfg.LocalEID, cfg.EventQueueHWM)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run()
		return nil
	})
	g.Go(func() error {
		dm.Run()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		dm.Stop()
		h.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		cos.ExitLogf("dtnd: %v", err)
	}
}

// buildDaemon wires every collaborator the way daemon.New documents: the
// store tables and globals first, then the timer subsystem, the
// convergence-layer registry, the contact manager (closing the
// construction cycle via Daemon.WireContact), and finally the router,
// before the caller starts the two driving goroutines.
func buildDaemon(cfg *cmn.Config) (*daemon.Daemon, *hk.Housekeeper, error) {
	bundles, err := store.OpenBuntTable(cfg.Storage.DBDir, "bundles")
	if err != nil {
		return nil, nil, fmt.Errorf("open bundles table: %w", err)
	}
	regs, err := store.OpenBuntTable(cfg.Storage.DBDir, "registrations")
	if err != nil {
		return nil, nil, fmt.Errorf("open registrations table: %w", err)
	}
	globalsTbl, err := store.OpenBuntTable(cfg.Storage.DBDir, "globals")
	if err != nil {
		return nil, nil, fmt.Errorf("open globals table: %w", err)
	}
	if cfg.Storage.Tidy {
		for _, t := range []*store.BuntTable{bundles, regs, globalsTbl} {
			if err := t.Tidy(); err != nil {
				return nil, nil, fmt.Errorf("tidy table: %w", err)
			}
		}
	}

	globals, err := store.OpenGlobals(globalsTbl)
	if err != nil {
		return nil, nil, fmt.Errorf("open globals: %w", err)
	}

	payload, err := store.NewFilePayload(cfg.Storage.PayloadDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open payload store: %w", err)
	}

	h := hk.New()
	clmgr := cla.NewManager()
	tracker := stats.New()

	dm := daemon.New(daemon.Deps{
		Config:             cfg,
		BundlesTable:       bundles,
		RegistrationsTable: regs,
		Globals:            globals,
		Payload:            payload,
		HK:                 h,
		CLs:                clmgr,
		Stats:              tracker,
	})

	cm := contact.NewManager(dm, clmgr, globals)
	dm.WireContact(cm)

	clmgr.Register("loopback", loopback.New(dm, cm, h, loopbackBps))

	dm.SetRouter(router.NewBasic(dm, cm, dm))

	if !cfg.Storage.Init {
		if err := dm.Recover(); err != nil {
			return nil, nil, fmt.Errorf("crash recovery: %w", err)
		}
	}

	if live, err := livePayloadIDs(bundles); err == nil {
		if f, ok := payload.(*store.FilePayload); ok {
			if err := f.ReconcileOrphans(live); err != nil {
				nlog.Warningf("dtnd: payload reconciliation failed: %v", err)
			}
		}
	}

	return dm, h, nil
}

// livePayloadIDs collects every bundleid still present in the bundles
// table, the liveness set ReconcileOrphans needs to tell a genuine
// orphan from a payload file whose bundle is merely still pending.
func livePayloadIDs(bundles store.Table) (map[uint32]struct{}, error) {
	live := make(map[uint32]struct{})
	err := bundles.Iterate(func(key string, _ []byte) bool {
		if id, err := strconv.ParseUint(key, 10, 32); err == nil {
			live[uint32(id)] = struct{}{}
		}
		return true
	})
	return live, err
}

func parseLocalEID(s string) (eid.ID, error) {
	return eid.Parse(s)
}

func printVer() {
	fmt.Printf("dtnd version %s (build %s)\n", build, buildtime)
}
