// Package cmn provides the core-visible configuration surface (§6) and
// the error-kind taxonomy (§7) shared by every component.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/dtnd/dtnd/cmn/eid"
)

var configJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the core-visible configuration surface enumerated in §6.
// It is read once at startup; nothing in the daemon mutates it, so
// no locking discipline is required to read it from any task.
type Config struct {
	Storage struct {
		DBDir      string // storage.dbdir
		PayloadDir string // storage.payloaddir
		Init       bool   // storage.init: create fresh tables on startup
		Tidy       bool   // storage.tidy: truncate tables on startup
	}
	Router struct {
		Type string // router.type: router implementation to instantiate
	}
	LocalEID eid.ID // local_eid: this node's endpoint id

	// EventQueueHWM bounds the daemon's event queue (§5 back-pressure,
	// "never drop"); Post blocks once the queue holds this many events.
	EventQueueHWM int
}

// DefaultConfig returns a Config usable for tests and the loopback
// end-to-end scenarios: an isolated, disposable dbdir/payloaddir pair and
// a generous queue high-water mark.
func DefaultConfig(dbdir, payloaddir string) *Config {
	c := &Config{}
	c.Storage.DBDir = dbdir
	c.Storage.PayloadDir = payloaddir
	c.Storage.Init = true
	c.Router.Type = "basic"
	c.LocalEID = eid.MustParse("dtn://localhost")
	c.EventQueueHWM = 4096
	return c
}

// fileConfig is the on-disk shape of the §6 flat option set; it exists
// only because eid.ID's fields are unexported and so cannot be
// (un)marshalled directly, unlike the rest of Config.
type fileConfig struct {
	Storage struct {
		DBDir      string `json:"dbdir"`
		PayloadDir string `json:"payloaddir"`
		Init       bool   `json:"init"`
		Tidy       bool   `json:"tidy"`
	} `json:"storage"`
	Router struct {
		Type string `json:"type"`
	} `json:"router"`
	LocalEID      string `json:"local_eid"`
	EventQueueHWM int    `json:"event_queue_hwm"`
}

// LoadConfig reads the §6 configuration file from path. String and
// numeric fields left empty or zero in the file keep cmd/dtnd's
// flag-supplied defaults, since the caller is expected to start from
// DefaultConfig and overlay this. The storage.init and storage.tidy
// booleans are always taken from the file; an absent key reads as false.
func LoadConfig(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := configJSON.Unmarshal(data, &fc); err != nil {
		return err
	}
	if fc.Storage.DBDir != "" {
		c.Storage.DBDir = fc.Storage.DBDir
	}
	if fc.Storage.PayloadDir != "" {
		c.Storage.PayloadDir = fc.Storage.PayloadDir
	}
	c.Storage.Init = fc.Storage.Init
	c.Storage.Tidy = fc.Storage.Tidy
	if fc.Router.Type != "" {
		c.Router.Type = fc.Router.Type
	}
	if fc.LocalEID != "" {
		id, err := eid.Parse(fc.LocalEID)
		if err != nil {
			return err
		}
		c.LocalEID = id
	}
	if fc.EventQueueHWM > 0 {
		c.EventQueueHWM = fc.EventQueueHWM
	}
	return nil
}
