package payment

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hoongun/getpaid/internal/logger"

	"go.uber.org/zap"
)

// Reconciler turns verified notifications into payment status
// transitions. Gateways deliver at-least-once and retry in parallel, so
// applications for the same payment serialize on a per-payment lock;
// unrelated payments proceed concurrently.
type Reconciler struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{
		store: store,
		now:   time.Now,
		locks: make(map[int64]*sync.Mutex),
	}
}

type ApplyResult struct {
	Payment *Payment
	Changed bool
}

// Apply looks up the referenced payment and advances its status.
//
// Paid outcomes compare the reported amount against the expected one:
// equal or over goes to paid, under goes to partially_paid; the
// reported amount is recorded either way. Rejections move the payment
// to failed unless it already reached paid, which is sticky against
// late failure reports. Pending outcomes never mutate. Replaying an
// identical notification is a no-op and keeps the paid_on of the first
// application.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (*ApplyResult, error) {
	id, err := strconv.ParseInt(n.Reference, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: reference %q", ErrNotFound, n.Reference)
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.Int64("payment_id", id),
		zap.String("outcome", n.Outcome.String()),
		zap.String("reported_amount", n.Amount.String()),
	)

	switch n.Outcome {
	case OutcomePaid:
		target := StatusPaid
		if n.Amount.LessThan(p.Amount) {
			target = StatusPartiallyPaid
		}
		if p.Status == target && p.AmountPaid.Equal(n.Amount) {
			log.Info("duplicate payment notification ignored")
			return &ApplyResult{Payment: p}, nil
		}

		now := r.now()
		p.AmountPaid = n.Amount
		p.PaidOn = &now
		p.Status = target
		if err := r.store.UpdateOutcome(ctx, p); err != nil {
			return nil, err
		}
		log.Info("payment settled", zap.String("status", string(target)))
		return &ApplyResult{Payment: p, Changed: true}, nil

	case OutcomeRejected:
		if p.Status == StatusPaid {
			log.Info("rejection after settlement ignored")
			return &ApplyResult{Payment: p}, nil
		}
		if p.Status == StatusFailed {
			return &ApplyResult{Payment: p}, nil
		}

		p.Status = StatusFailed
		if err := r.store.UpdateOutcome(ctx, p); err != nil {
			return nil, err
		}
		log.Info("payment failed")
		return &ApplyResult{Payment: p, Changed: true}, nil

	default:
		// Status check, nothing to mutate.
		return &ApplyResult{Payment: p}, nil
	}
}

func (r *Reconciler) lockFor(id int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
