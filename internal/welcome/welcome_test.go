package welcome

import (
	"context"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeStore serializes MarkWelcomedIfNotAlready the way a real atomic
// check-and-set would, recording how many times it actually wrote.
type fakeStore struct {
	mu      sync.Mutex
	written map[uint32]bool
	writes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{written: map[uint32]bool{}}
}

func (s *fakeStore) MarkWelcomedIfNotAlready(_ context.Context, node uint32, _ int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written[node] {
		return false, nil
	}
	s.written[node] = true
	s.writes++
	return true, nil
}

// TestAutoWelcomeAtomicity is the §8 property: two overlapping
// invocations for the same node produce exactly one store write and
// exactly one enqueued message.
func TestAutoWelcomeAtomicity(t *testing.T) {
	store := newFakeStore()
	var mu sync.Mutex
	var enqueued int

	w := New(store, clockwork.NewFakeClock(), func(ctx context.Context, node uint32, longName string) error {
		mu.Lock()
		enqueued++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.MaybeWelcome(context.Background(), 0x10, "Alice")
		}()
	}
	wg.Wait()

	require.Equal(t, 1, store.writes)
	require.Equal(t, 1, enqueued)
}

func TestAlreadyWelcomedNodeIsNotEnqueuedAgain(t *testing.T) {
	store := newFakeStore()
	store.written[0x10] = true
	store.writes = 1

	enqueued := 0
	w := New(store, clockwork.NewFakeClock(), func(ctx context.Context, node uint32, longName string) error {
		enqueued++
		return nil
	})

	require.NoError(t, w.MaybeWelcome(context.Background(), 0x10, "Alice"))
	require.Equal(t, 0, enqueued)
}
