package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention drops records older than this. Zero keeps everything.
	Retention time.Duration
}

// Record is one compensation stage. Keep it compact and schema-stable.
type Record struct {
	At     time.Time       `json:"at"`
	TxID   string          `json:"tx_id,omitempty"`
	Op     string          `json:"op"`
	Slug   string          `json:"slug"`
	Key    string          `json:"key"`
	Stage  string          `json:"stage"`
	Policy string          `json:"policy,omitempty"`
	Error  string          `json:"error,omitempty"`
	TookMS int64           `json:"took_ms,omitempty"`
	Prior  json.RawMessage `json:"prior,omitempty"`
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	TxID  string
	Slug  string
	Stage string
	Since time.Time

	// Limit keeps the newest N matches. Zero means no limit.
	Limit int
}

func (f Filter) match(r Record) bool {
	if f.TxID != "" && r.TxID != f.TxID {
		return false
	}
	if f.Slug != "" && r.Slug != f.Slug {
		return false
	}
	if f.Stage != "" && r.Stage != f.Stage {
		return false
	}
	if !f.Since.IsZero() && r.At.Before(f.Since) {
		return false
	}
	return true
}

// Journal is the persistence API used by the app.
// Records are listed oldest first.
type Journal interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
