// Package barrier provides a reusable rendezvous point for a fixed number of
// goroutines. It is the only lock taken by a registration run: workers meet
// at a barrier between phases and never contend on the image buffers.
package barrier

import (
	"fmt"
	"sync"

	"demonsreg/internal/models"
)

// ErrInvalidConfiguration is returned when a barrier is given no parties.
var ErrInvalidConfiguration = models.ErrInvalidConfiguration

// Barrier blocks callers of Wait until the configured number of parties
// have arrived, then releases all of them together and resets itself for
// the next round.
//
// The zero value is an uninitialized barrier; call Initialize or use New.
//
// Only Wait on an uninitialized barrier and Initialize with parties waiting
// are detected. A caller arriving beyond the party count is counted in the
// next round, which looks exactly like an early arrival there; it blocks
// until that round fills, possibly forever. Callers must use exactly the
// configured number of parties per round.
type Barrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	parties    int
	arrived    int
	generation uint64
}

// New returns a barrier for n parties.
func New(n int) (*Barrier, error) {
	b := &Barrier{}
	if err := b.Initialize(n); err != nil {
		return nil, err
	}
	return b, nil
}

// Initialize sets the party count and resets the arrival counter.
// It panics if parties of the current round are already waiting.
func (b *Barrier) Initialize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: barrier needs at least one party, got %d", ErrInvalidConfiguration, n)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.arrived > 0 {
		panic(fmt.Sprintf("barrier re-initialized with %d of %d parties waiting", b.arrived, b.parties))
	}
	if b.cond == nil {
		b.cond = sync.NewCond(&b.mu)
	}
	b.parties = n
	b.arrived = 0
	return nil
}

// Wait blocks until every party has called Wait for the current round.
// The last party to arrive resets the barrier and returns true; all others
// return false.
func (b *Barrier) Wait() bool {
	b.mu.Lock()

	if b.parties == 0 {
		b.mu.Unlock()
		panic("wait on barrier without parties")
	}

	generation := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		b.mu.Unlock()
		return true
	}

	// A wakeup only counts once the round this caller joined has closed.
	for generation == b.generation {
		b.cond.Wait()
	}
	b.mu.Unlock()
	return false
}

// Parties reports the number of parties the barrier waits for.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// Generation reports how many rounds have been released so far.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
