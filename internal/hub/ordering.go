package hub

import (
	"context"
	"fmt"

	"chatcore/internal/domain/chat"
)

// authority hands out per-conversation sequence numbers and guarantees that
// publishes happen in ticket order even when the work behind two tickets
// finishes out of order. Moderation, encryption and persistence all run
// outside the lock; only reservation and the pending buffer are serialized.
type authority struct {
	reserveCh chan struct{} // capacity-1 semaphore guarding counters

	seeded      bool
	nextSeq     uint64
	publishNext uint64
	outstanding int // tickets reserved but not yet completed or aborted
	pending     map[uint64]func()
}

func newAuthority() *authority {
	a := &authority{
		reserveCh: make(chan struct{}, 1),
		pending:   make(map[uint64]func()),
	}
	a.reserveCh <- struct{}{}
	return a
}

func (a *authority) lock(ctx context.Context) error {
	select {
	case <-a.reserveCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *authority) unlock() {
	a.reserveCh <- struct{}{}
}

// reserve assigns the next sequence number, seeding the counters from the
// durable store on first use after startup or recovery.
func (a *authority) reserve(ctx context.Context, lastPersisted func(context.Context) (uint64, error)) (uint64, error) {
	if err := a.lock(ctx); err != nil {
		return 0, err
	}
	defer a.unlock()

	if !a.seeded {
		last, err := lastPersisted(ctx)
		if err != nil {
			return 0, fmt.Errorf("seed sequence counter: %w", err)
		}
		a.nextSeq = last + 1
		a.publishNext = last + 1
		a.seeded = true
	}
	seq := a.nextSeq
	a.nextSeq++
	a.outstanding++
	return seq, nil
}

// complete hands back a finished ticket with its publish action. Tickets are
// buffered until every lower ticket has been completed or aborted, then
// drained in order. Publish actions are non-blocking channel enqueues, so
// running them under the lock keeps the ordering airtight at no real cost.
func (a *authority) complete(seq uint64, publish func()) error {
	if err := a.lock(context.Background()); err != nil {
		return err
	}
	defer a.unlock()

	if seq < a.publishNext || seq >= a.nextSeq {
		return fmt.Errorf("%w: ticket %d outside window [%d, %d)", chat.ErrOrderingViolation, seq, a.publishNext, a.nextSeq)
	}
	if _, dup := a.pending[seq]; dup {
		return fmt.Errorf("%w: ticket %d completed twice", chat.ErrOrderingViolation, seq)
	}
	a.pending[seq] = publish
	a.outstanding--

	for {
		fn, ok := a.pending[a.publishNext]
		if !ok {
			return nil
		}
		delete(a.pending, a.publishNext)
		a.publishNext++
		if fn != nil {
			fn()
		}
	}
}

// abort releases a ticket whose message was rejected or failed to persist.
// The sequence number is skipped; later tickets are not held up by it.
func (a *authority) abort(seq uint64) error {
	return a.complete(seq, nil)
}

// reset forces the next reserve to re-seed from the store. Used to recover
// after an ordering violation.
func (a *authority) reset() {
	if err := a.lock(context.Background()); err != nil {
		return
	}
	defer a.unlock()
	a.seeded = false
	a.outstanding = 0
	a.pending = make(map[uint64]func())
}
