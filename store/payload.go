package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	lz4 "github.com/pierrec/lz4/v3"

	"github.com/dtnd/dtnd/cmn/cos"
	"github.com/dtnd/dtnd/cmn/nlog"
)

// PayloadStore resolves a bundle's opaque PayloadHandle.Location to the
// actual bytes (§3 "opaque payload handle"). The bundle and store
// packages never assume a particular backing: MemPayload keeps bytes
// inline for small bundles and tests; FilePayload writes one
// LZ4-compressed file per bundleid under storage.payloaddir.
type PayloadStore interface {
	Put(bundleID uint32, data []byte) (location string, err error)
	Get(location string) ([]byte, error)
	Del(location string) error
}

//
// MemPayload
//

type MemPayload struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemPayload() *MemPayload { return &MemPayload{data: make(map[string][]byte)} }

func (m *MemPayload) Put(bundleID uint32, data []byte) (string, error) {
	loc := fmt.Sprintf("mem://%d", bundleID)
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.data[loc] = cp
	m.mu.Unlock()
	return loc, nil
}

func (m *MemPayload) Get(location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[location]
	if !ok {
		return nil, cos.NewErrNotFound("payload %q", location)
	}
	return d, nil
}

func (m *MemPayload) Del(location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, location)
	return nil
}

//
// FilePayload
//

type FilePayload struct {
	dir string
}

func NewFilePayload(dir string) (*FilePayload, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FilePayload{dir: dir}, nil
}

func (f *FilePayload) fname(bundleID uint32) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d.lz4", bundleID))
}

func (f *FilePayload) Put(bundleID uint32, data []byte) (string, error) {
	fpath := f.fname(bundleID)
	tmp := fpath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	zw := lz4.NewWriter(file)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := zw.Close(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, fpath); err != nil {
		return "", err
	}
	return fpath, nil
}

func (f *FilePayload) Get(location string) ([]byte, error) {
	file, err := os.Open(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewErrNotFound("payload file %q", location)
		}
		return nil, err
	}
	defer file.Close()
	zr := lz4.NewReader(file)
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *FilePayload) Del(location string) error {
	err := os.Remove(location)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReconcileOrphans walks storage.payloaddir with godirwalk (faster than
// filepath.Walk: no per-entry os.Lstat beyond what the directory read
// already returns) and deletes any payload file whose bundleid is not in
// liveIDs — the result of a crash between a store-delete and the
// corresponding payload-file delete (§4.8 crash recovery).
func (f *FilePayload) ReconcileOrphans(liveIDs map[uint32]struct{}) error {
	return godirwalk.Walk(f.dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(fpath string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			base := filepath.Base(fpath)
			idStr := strings.TrimSuffix(base, ".lz4")
			if idStr == base {
				return nil // not one of ours
			}
			id, err := strconv.ParseUint(idStr, 10, 32)
			if err != nil {
				return nil
			}
			if _, live := liveIDs[uint32(id)]; !live {
				if err := os.Remove(fpath); err != nil {
					nlog.Warningf("payload reconcile: failed to remove orphan %q: %v", fpath, err)
				} else {
					nlog.Infof("payload reconcile: removed orphan %q", fpath)
				}
			}
			return nil
		},
	})
}
