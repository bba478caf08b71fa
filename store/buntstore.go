package store

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// BuntTable implements Table over a single buntdb database file. buntdb
// fsyncs on every Update transaction when opened with SyncPolicy:Always,
// giving the "durable after put returns" guarantee (§4.2); Ascend inside
// a View transaction gives iteration a consistent snapshot.
type BuntTable struct {
	db *buntdb.DB
}

// OpenBuntTable opens (creating if absent) the database file backing one
// table under dir/name.db.
func OpenBuntTable(dir, name string) (*BuntTable, error) {
	dbpath := filepath.Join(dir, name+".db")
	db, err := buntdb.Open(dbpath)
	if err != nil {
		return nil, errors.Wrapf(err, "store: opening table %q", dbpath)
	}
	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "store: reading config for table %q", dbpath)
	}
	cfg.SyncPolicy = buntdb.Always
	if err := db.SetConfig(cfg); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "store: applying sync policy for table %q", dbpath)
	}
	return &BuntTable{db: db}, nil
}

func (t *BuntTable) Get(key string) ([]byte, error) {
	var val string
	err := t.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, errNotFound(key)
	}
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}

func (t *BuntTable) Put(key string, value []byte, mode PutMode) error {
	return t.db.Update(func(tx *buntdb.Tx) error {
		if mode == Create {
			if _, err := tx.Get(key); err == nil {
				return &ErrAlreadyExists{Key: key}
			} else if err != buntdb.ErrNotFound {
				return err
			}
		}
		_, _, err := tx.Set(key, string(value), nil)
		return err
	})
}

func (t *BuntTable) Del(key string) error {
	err := t.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if err == buntdb.ErrNotFound {
		return errNotFound(key)
	}
	return err
}

func (t *BuntTable) Iterate(fn func(key string, value []byte) bool) error {
	return t.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			return fn(key, []byte(value))
		})
	})
}

func (t *BuntTable) Close() error { return t.db.Close() }

// Tidy truncates the table, used when storage.tidy is configured (§6).
func (t *BuntTable) Tidy() error {
	return t.db.Update(func(tx *buntdb.Tx) error {
		return tx.DeleteAll()
	})
}
