package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
		// Scratch data: losing it on crash only means re-running the audit.
		DisableWAL: true,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func encodePebbleState(st GroupState) ([]byte, error) { return json.Marshal(st) }
func decodePebbleState(val []byte) (GroupState, error) {
	var st GroupState
	if err := json.Unmarshal(val, &st); err != nil {
		return GroupState{}, err
	}
	return st, nil
}

func (p *PebbleStore) Apply(key string, dose int64, seq int64) (bool, GroupState, error) {
	k := []byte(key)
	var cur GroupState
	v, closer, err := p.db.Get(k)
	if err == nil {
		cur, err = decodePebbleState(v)
		_ = closer.Close()
		if err != nil {
			return false, GroupState{}, err
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return false, GroupState{}, err
	}
	if cur.Count > 0 && seq <= cur.LastSeq {
		return false, cur, nil
	}
	cur = cur.Next(dose, seq)
	bytes, err := encodePebbleState(cur)
	if err != nil {
		return false, GroupState{}, err
	}
	if err := p.db.Set(k, bytes, pebble.NoSync); err != nil {
		return false, GroupState{}, err
	}
	return true, cur, nil
}

func (p *PebbleStore) Get(key string) (GroupState, bool) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		return GroupState{}, false
	}
	defer closer.Close()
	st, e := decodePebbleState(v)
	if e != nil {
		return GroupState{}, false
	}
	return st, true
}

func (p *PebbleStore) Range(fn func(key string, st GroupState) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		st, err := decodePebbleState(v)
		if err != nil {
			return err
		}
		if err := fn(string(k), st); err != nil {
			return err
		}
	}
	return nil
}
