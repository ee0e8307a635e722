package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventsched/pkg/event"
	"eventsched/pkg/logx"
)

// Transaction is the caller-owned handle a compensated mutation registers
// its undo with. The owner runs registered undos in reverse order when it
// rolls back; the client never commits or aborts it.
type Transaction interface {
	OnRollback(undo func(ctx context.Context) error) error
}

// CompensationPolicy decides what a failing undo does.
type CompensationPolicy uint8

const (
	// BestEffort reports the failure to hooks and returns nil to the
	// transaction owner, so the rest of the rollback proceeds.
	BestEffort CompensationPolicy = iota
	// Strict reports the failure and also returns it to the owner.
	Strict
)

func (p CompensationPolicy) String() string {
	switch p {
	case Strict:
		return "strict"
	default:
		return "best_effort"
	}
}

// ParsePolicy maps "best_effort" / "strict" (or "") to a policy.
func ParsePolicy(s string) (CompensationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best_effort", "best-effort", "besteffort":
		return BestEffort, nil
	case "strict":
		return Strict, nil
	default:
		return BestEffort, fmt.Errorf("unknown compensation policy %q", s)
	}
}

// Op names the compensated mutation.
type Op string

const (
	OpRemove Op = "remove"
	OpUpdate Op = "update"
)

// Stage is a point in a compensation's life.
type Stage string

const (
	StageRegistered Stage = "registered"
	StageStarted    Stage = "started"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// CompensationReport describes one stage of one compensation.
type CompensationReport struct {
	Stage Stage
	Op    Op
	Slug  string
	Key   string
	// TxID is set when the transaction exposes ID() string.
	TxID string

	// Prior is the snapshot the undo restores.
	Prior event.Event

	// Err is set for StageFailed.
	Err      error
	At       time.Time
	Duration time.Duration
	Policy   CompensationPolicy
}

// CompensationHook observes compensations. Hooks run synchronously on the
// calling goroutine and must not block.
type CompensationHook func(ctx context.Context, r CompensationReport)

type txCtxKey struct{}

// ContextWithTx returns a context carrying tx as the ambient transaction.
// Remove and Update called with a nil tx pick it up.
func ContextWithTx(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromContext returns the ambient transaction, if any.
func TxFromContext(ctx context.Context) Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txCtxKey{}).(Transaction)
	return tx
}

// withoutTx hides the ambient transaction, so undo calls never register
// compensations of their own.
func withoutTx(ctx context.Context) context.Context {
	if TxFromContext(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, txCtxKey{}, nil)
}

type identified interface{ ID() string }

// withCompensation runs mutate, first registering an undo with tx when one
// is given (explicitly or via ctx). The prior state is read with get; when
// nothing is stored at (slug, key) it fails with KindNotFound and mutate is
// not called. touched lists the unmodeled top-level keys mutate writes; the
// undo resets each of them.
func (c *Client) withCompensation(ctx context.Context, tx Transaction, op Op, slug, key string, touched []string, mutate func(context.Context) error) error {
	if tx == nil {
		tx = TxFromContext(ctx)
	}
	if tx == nil {
		return mutate(ctx)
	}

	prior, err := c.get(withoutTx(ctx), slug, key, false)
	if err != nil {
		return err
	}
	if prior == nil {
		return &NotFoundFailure{Slug: slug, Key: key, Message: fmt.Sprintf("cannot %s %s/%s: no event to compensate", op, slug, key)}
	}

	snapshot := *prior
	base := CompensationReport{Op: op, Slug: slug, Key: key, Prior: snapshot, Policy: c.config().Policy}
	if t, ok := tx.(identified); ok {
		base.TxID = t.ID()
	}

	undo := func(uctx context.Context) error {
		return c.runUndo(uctx, base, touched)
	}
	if err := tx.OnRollback(undo); err != nil {
		return invalid("register compensation for %s %s/%s: %v", op, slug, key, err)
	}
	r := base
	r.Stage = StageRegistered
	c.report(ctx, r)

	return mutate(ctx)
}

func (c *Client) runUndo(ctx context.Context, base CompensationReport, touched []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = withoutTx(ctx)
	start := c.now()

	r := base
	r.Stage = StageStarted
	r.At = start
	c.report(ctx, r)

	var err error
	switch base.Op {
	case OpRemove:
		_, err = c.add(ctx, base.Slug, base.Key, event.ParamsFromEvent(base.Prior))
	case OpUpdate:
		_, err = c.update(ctx, base.Slug, base.Key, event.UpdatesFromEvent(base.Prior, touched...))
	default:
		err = fmt.Errorf("unknown compensated op %q", base.Op)
	}

	r.At = c.now()
	r.Duration = r.At.Sub(start)
	err = fail(err)
	if err == nil {
		r.Stage = StageCompleted
		c.report(ctx, r)
		return nil
	}

	r.Stage = StageFailed
	r.Err = err
	c.report(ctx, r)
	if base.Policy == Strict {
		return err
	}
	return nil
}

func (c *Client) report(ctx context.Context, r CompensationReport) {
	if r.At.IsZero() {
		r.At = c.now()
	}
	fields := []logx.Field{
		logx.String("op", string(r.Op)),
		logx.String("slug", r.Slug),
		logx.String("key", r.Key),
		logx.String("stage", string(r.Stage)),
	}
	if r.TxID != "" {
		fields = append(fields, logx.String("tx", r.TxID))
	}
	if r.Stage == StageFailed {
		fields = append(fields, logx.String("policy", r.Policy.String()), logx.Err(r.Err))
		c.log.Warn("compensation failed", fields...)
	} else {
		c.log.Debug("compensation", fields...)
	}
	for _, h := range c.hooks {
		if h != nil {
			h(ctx, r)
		}
	}
}
