// Package txn is a small undo-log transaction.
//
// It owns the handle that scheduler.Client registers compensations with:
// undos are kept in registration order and run newest first on Rollback.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventsched/pkg/logx"
)

var (
	// ErrDone is returned when registering on, committing or rolling back a
	// transaction that already finished.
	ErrDone = errors.New("transaction already finished")
)

type State uint8

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "active"
	}
}

// Undo restores state changed by one step.
type Undo func(ctx context.Context) error

type Option func(*Tx)

func WithLogger(l logx.Logger) Option { return func(t *Tx) { t.log = l } }

// WithID overrides the generated id.
func WithID(id string) Option {
	return func(t *Tx) {
		if id != "" {
			t.id = id
		}
	}
}

// WithUndoTimeout bounds each undo call. Zero means no bound.
func WithUndoTimeout(d time.Duration) Option { return func(t *Tx) { t.undoTimeout = d } }

type Tx struct {
	id          string
	log         logx.Logger
	undoTimeout time.Duration

	mu    sync.Mutex
	state State
	undos []Undo
}

func New(opts ...Option) *Tx {
	t := &Tx{id: uuid.NewString()}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	t.log = t.log.With(logx.String("tx", t.id))
	return t
}

func (t *Tx) ID() string { return t.id }

func (t *Tx) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Len returns the number of registered undos.
func (t *Tx) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.undos)
}

// OnRollback registers undo. It fails with ErrDone once the transaction
// finished.
func (t *Tx) OnRollback(undo func(ctx context.Context) error) error {
	if undo == nil {
		return errors.New("nil undo")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrDone
	}
	t.undos = append(t.undos, undo)
	return nil
}

// Commit drops the undo log.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrDone
	}
	t.state = StateCommitted
	n := len(t.undos)
	t.undos = nil
	t.log.Debug("transaction committed", logx.Int("undos", n))
	return nil
}

// Rollback runs every registered undo, newest first. A failing undo does not
// stop the ones registered before it; all failures are joined.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return ErrDone
	}
	t.state = StateRolledBack
	undos := t.undos
	t.undos = nil
	t.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(undos) - 1; i >= 0; i-- {
		if err := t.runUndo(ctx, i, undos[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		t.log.Warn("transaction rolled back with errors", logx.Int("undos", len(undos)), logx.Int("failed", len(errs)))
		return errors.Join(errs...)
	}
	t.log.Debug("transaction rolled back", logx.Int("undos", len(undos)))
	return nil
}

func (t *Tx) runUndo(ctx context.Context, i int, u Undo) (err error) {
	if t.undoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.undoTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("undo %d panic: %v", i, r)
		}
	}()
	if err := u(ctx); err != nil {
		return fmt.Errorf("undo %d: %w", i, err)
	}
	return nil
}

// Run calls fn inside a new transaction. The transaction commits when fn
// returns nil and rolls back when fn fails or panics; a panic is re-raised
// after the rollback.
func Run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, opts ...Option) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tx := New(opts...)
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}
