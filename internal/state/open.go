package state

import (
	"errors"
	"fmt"
	"os"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendBadger = "badger"
)

// Open returns a store for backend. Disk backends live in a fresh temporary
// directory under dir which is removed again on Close.
func Open(backend string, dir string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewInMemoryStore(), nil
	case BackendPebble, BackendBadger:
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(dir, "iisqa-"+backend+"-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}

	var st Store
	if backend == BackendPebble {
		st, err = NewPebbleStore(scratch)
	} else {
		st, err = NewBadgerStore(scratch)
	}
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, err
	}
	return &scratchStore{Store: st, dir: scratch}, nil
}

type scratchStore struct {
	Store
	dir string
}

func (s *scratchStore) Close() error {
	return errors.Join(s.Store.Close(), os.RemoveAll(s.dir))
}
