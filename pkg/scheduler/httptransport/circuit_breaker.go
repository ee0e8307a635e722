package httptransport

import (
	"strings"
	"sync"
	"time"

	"eventsched/pkg/logx"
)

// circuitState tracks consecutive failures for a single host.
//
//   - On success: resets failures and closes the circuit.
//   - On failure: increments failures and, once failures >= trip,
//     opens the circuit for an exponentially increasing cooldown.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// getLocked returns the state for key; the caller must hold s.mu.
func (s *circuitStore) getLocked(key string) *circuitState {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return nil
	}
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[k]
	if st == nil {
		st = &circuitState{}
		s.m[k] = st
	}
	return st
}

type circuitCfg struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

func effectiveCircuitCfg(cfg Config) circuitCfg {
	trip := cfg.CircuitTripFailures
	if trip == 0 {
		trip = 5
	}
	if trip < 0 {
		return circuitCfg{enabled: false}
	}
	base := cfg.CircuitBaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	maxD := cfg.CircuitMaxDelay
	if maxD <= 0 {
		maxD = 2 * time.Minute
	}
	reset := cfg.CircuitResetAfter
	if reset <= 0 {
		reset = 5 * time.Minute
	}
	return circuitCfg{trip: trip, baseDelay: base, maxDelay: maxD, resetAfter: reset, enabled: true}
}

func (t *Transport) circuitIsOpen(now time.Time, host string, cfg Config) (bool, time.Time) {
	cc := effectiveCircuitCfg(cfg)
	if !cc.enabled {
		return false, time.Time{}
	}
	t.circuits.mu.Lock()
	defer t.circuits.mu.Unlock()
	st := t.circuits.getLocked(host)
	if st == nil {
		return false, time.Time{}
	}

	// Opportunistic reset if last failure was long ago.
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > cc.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (t *Transport) circuitRecordResult(now time.Time, host string, cfg Config, err error) {
	cc := effectiveCircuitCfg(cfg)
	if !cc.enabled {
		return
	}
	t.circuits.mu.Lock()
	defer t.circuits.mu.Unlock()
	st := t.circuits.getLocked(host)
	if st == nil {
		return
	}

	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > cc.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
	if err == nil {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < cc.trip {
		return
	}

	pow := st.fails - cc.trip
	d := cc.baseDelay
	for i := 0; i < pow; i++ {
		d *= 2
		if d >= cc.maxDelay {
			d = cc.maxDelay
			break
		}
	}
	if d > cc.maxDelay {
		d = cc.maxDelay
	}
	st.openUntil = now.Add(d)
	t.log.Warn("circuit opened", logx.String("host", host), logx.Time("until", st.openUntil), logx.Int("fails", st.fails))
}

// CircuitSnapshot reports how many hosts are tracked and how many are open.
func (t *Transport) CircuitSnapshot() (total, open int) {
	now := t.now()
	t.circuits.mu.Lock()
	defer t.circuits.mu.Unlock()
	total = len(t.circuits.m)
	for _, st := range t.circuits.m {
		if st != nil && !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
