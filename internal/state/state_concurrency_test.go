package state

import (
	"sync"
	"testing"
)

func TestInMemoryStore_ConcurrentAppliesDifferentKeys(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	keys := []string{"P1|MMR", "P1|DTaP", "P2|HepB", "P3|Polio"}
	iters := 1000

	for _, k := range keys {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= iters; i++ {
				_, _, err := s.Apply(k, int64(i), int64(i))
				if err != nil {
					t.Errorf("apply err: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		st, ok := s.Get(k)
		if !ok {
			t.Fatalf("missing key %s", k)
		}
		if st.Count != int64(iters) || st.LastDose != int64(iters) || st.LastSeq != int64(iters) || st.SequenceError {
			t.Fatalf("bad state for %s: %+v", k, st)
		}
	}
}
