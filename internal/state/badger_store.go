package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func encodeState(st GroupState) ([]byte, error) { return json.Marshal(st) }
func decodeState(val []byte) (GroupState, error) {
	var st GroupState
	if err := json.Unmarshal(val, &st); err != nil {
		return GroupState{}, err
	}
	return st, nil
}

func (b *BadgerStore) Apply(key string, dose int64, seq int64) (bool, GroupState, error) {
	var applied bool
	var out GroupState
	err := b.db.Update(func(txn *badger.Txn) error {
		var cur GroupState
		item, err := txn.Get([]byte(key))
		if err == nil {
			v, e := item.ValueCopy(nil)
			if e != nil {
				return e
			}
			cur, e = decodeState(v)
			if e != nil {
				return e
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if cur.Count > 0 && seq <= cur.LastSeq {
			applied = false
			out = cur
			return nil
		}
		cur = cur.Next(dose, seq)
		bytes, e := encodeState(cur)
		if e != nil {
			return e
		}
		if e = txn.Set([]byte(key), bytes); e != nil {
			return e
		}
		applied = true
		out = cur
		return nil
	})
	return applied, out, err
}

func (b *BadgerStore) Get(key string) (GroupState, bool) {
	var st GroupState
	err := b.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get([]byte(key))
		if e != nil {
			return e
		}
		v, e := item.ValueCopy(nil)
		if e != nil {
			return e
		}
		var dErr error
		st, dErr = decodeState(v)
		return dErr
	})
	if err != nil {
		return GroupState{}, false
	}
	return st, true
}

func (b *BadgerStore) Range(fn func(key string, st GroupState) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			st, err := decodeState(v)
			if err != nil {
				return err
			}
			if err := fn(string(k), st); err != nil {
				return err
			}
		}
		return nil
	})
}
