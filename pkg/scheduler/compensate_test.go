package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"eventsched/pkg/event"
	"eventsched/pkg/txn"
)

type hookRecorder struct {
	mu      sync.Mutex
	reports []CompensationReport
}

func (h *hookRecorder) hook(_ context.Context, r CompensationReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, r)
}

func (h *hookRecorder) stages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.reports))
	for _, r := range h.reports {
		out = append(out, string(r.Op)+":"+string(r.Stage))
	}
	return out
}

func seed(t *testing.T, f *fakeService, slug, key string, runAt time.Time) event.Event {
	t.Helper()
	ev, err := event.Normalize(event.Params{
		Slug:    slug,
		Key:     key,
		Request: event.Request{Host: "hooks.example.com", Path: "/" + slug, Headers: map[string]string{"X-Id": key}},
		RunAt:   event.At(runAt),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.put(ev)
	return ev
}

func TestRemoveInTransactionRestoresOnRollback(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	rec := &hookRecorder{}
	c := newTestClient(f, WithCompensationHook(rec.hook))
	ctx := context.Background()
	prior := seed(t, f, "s", "k", time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	tx := txn.New()
	n, err := c.Remove(ctx, "s", "k", tx)
	if err != nil || n != 1 {
		t.Fatalf("Remove = %d, %v", n, err)
	}
	if tx.Len() != 1 {
		t.Fatalf("registered undos = %d, want 1", tx.Len())
	}
	if ev, _ := c.Get(ctx, "s", "k"); ev != nil {
		t.Fatal("event still present after Remove")
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, err := c.Get(ctx, "s", "k")
	if err != nil || got == nil {
		t.Fatalf("Get after rollback = %v, %v", got, err)
	}
	if got.RunAt != prior.RunAt || got.Request.Host != prior.Request.Host || got.Request.Headers["X-Id"] != "k" {
		t.Fatalf("restored event = %+v, want %+v", got, prior)
	}

	want := "remove:registered,remove:started,remove:completed"
	if s := strings.Join(rec.stages(), ","); s != want {
		t.Fatalf("hook stages = %s, want %s", s, want)
	}
	if rec.reports[0].TxID != tx.ID() {
		t.Fatalf("TxID = %q, want %q", rec.reports[0].TxID, tx.ID())
	}
}

func TestRemoveInTransactionWithoutPriorEvent(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	tx := txn.New()

	_, err := c.Remove(context.Background(), "s", "missing", tx)
	if !IsKind(err, KindNotFound) || StatusOf(err) != http.StatusNotFound {
		t.Fatalf("err = %v, want not_found 404", err)
	}
	for _, call := range f.Calls() {
		if strings.HasPrefix(call, http.MethodDelete) {
			t.Fatalf("deletion attempted: %v", f.Calls())
		}
	}
	if tx.Len() != 0 {
		t.Fatalf("registered undos = %d, want 0", tx.Len())
	}
}

func TestUpdateInTransactionWithoutPriorEvent(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	tx := txn.New()
	later := event.At(time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC))

	_, err := c.Update(context.Background(), "s", "missing", event.Updates{RunAt: &later}, tx)
	if !IsKind(err, KindNotFound) || StatusOf(err) != http.StatusNotFound {
		t.Fatalf("err = %v, want not_found 404", err)
	}
	if got := f.Calls(); len(got) != 1 || got[0] != "GET /s/missing" {
		t.Fatalf("calls = %v, want only the snapshot read", got)
	}
	if tx.Len() != 0 {
		t.Fatalf("registered undos = %d, want 0", tx.Len())
	}
}

func TestUpdateRollbackClearsFieldsAddedByUpdate(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	ctx := context.Background()
	prior := seed(t, f, "s", "k", time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	var mu sync.Mutex
	var puts []string
	f.intercept = func(req *Request) (*Response, error) {
		if req.Method == http.MethodPut {
			mu.Lock()
			puts = append(puts, string(req.Body))
			mu.Unlock()
		}
		return nil, nil
	}

	tx := txn.New()
	u := event.Updates{
		Request: &event.Request{Data: json.RawMessage(`{"x":1}`)},
		Extra:   map[string]json.RawMessage{"endpoint": json.RawMessage(`"123"`)},
	}
	updated, err := c.Update(ctx, "s", "k", u, tx)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if string(updated.Request.Data) != `{"x":1}` || string(updated.Extra["endpoint"]) != `"123"` {
		t.Fatalf("updated = data %s endpoint %s", updated.Request.Data, updated.Extra["endpoint"])
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, err := c.Get(ctx, "s", "k")
	if err != nil || got == nil {
		t.Fatalf("Get after rollback = %v, %v", got, err)
	}
	if len(got.Request.Data) != 0 {
		t.Fatalf("data after rollback = %s, want none", got.Request.Data)
	}
	if v, ok := got.Extra["endpoint"]; ok {
		t.Fatalf("endpoint after rollback = %s, want absent", v)
	}
	if got.RunAt != prior.RunAt || got.Request.Host != prior.Request.Host {
		t.Fatalf("restored event = %+v, want %+v", got, prior)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 2 {
		t.Fatalf("PUT bodies = %v, want update and undo", puts)
	}
	var undo map[string]json.RawMessage
	if err := json.Unmarshal([]byte(puts[1]), &undo); err != nil {
		t.Fatalf("undo body: %v", err)
	}
	var req map[string]json.RawMessage
	if err := json.Unmarshal(undo["request"], &req); err != nil {
		t.Fatalf("undo request: %v", err)
	}
	if string(req["data"]) != "null" || string(undo["endpoint"]) != "null" {
		t.Fatalf("undo body = %s, want explicit nulls for data and endpoint", puts[1])
	}
}

func TestRollbackRestoresFailureState(t *testing.T) {
	t.Parallel()

	code := 502
	failed := event.Params{
		Slug:           "s",
		Key:            "k",
		Request:        event.Request{Host: "hooks.example.com"},
		RunAt:          event.At(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)),
		Failed:         true,
		FailedCode:     &code,
		FailedResponse: json.RawMessage(`{"reason":"bad gateway"}`),
		Extra:          map[string]json.RawMessage{"endpoint": json.RawMessage(`"e1"`)},
	}

	tests := []struct {
		name   string
		mutate func(ctx context.Context, c *Client, tx *txn.Tx) error
	}{
		{
			name: "remove",
			mutate: func(ctx context.Context, c *Client, tx *txn.Tx) error {
				_, err := c.Remove(ctx, "s", "k", tx)
				return err
			},
		},
		{
			name: "update",
			mutate: func(ctx context.Context, c *Client, tx *txn.Tx) error {
				u := event.Updates{Extra: map[string]json.RawMessage{
					"failed":          json.RawMessage("false"),
					"failed_code":     json.RawMessage("null"),
					"failed_response": json.RawMessage("null"),
					"endpoint":        json.RawMessage(`"e2"`),
				}}
				_, err := c.Update(ctx, "s", "k", u, tx)
				return err
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFakeService()
			c := newTestClient(f)
			ctx := context.Background()
			ev, err := event.Normalize(failed)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			f.put(ev)

			tx := txn.New()
			if err := tt.mutate(ctx, c, tx); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if err := tx.Rollback(ctx); err != nil {
				t.Fatalf("Rollback: %v", err)
			}

			got, err := c.Get(ctx, "s", "k")
			if err != nil || got == nil {
				t.Fatalf("Get after rollback = %v, %v", got, err)
			}
			if !got.Failed || got.FailedCode == nil || *got.FailedCode != code {
				t.Fatalf("failure state = %v %v, want failed 502", got.Failed, got.FailedCode)
			}
			if string(got.FailedResponse) != `{"reason":"bad gateway"}` {
				t.Fatalf("failed_response = %s", got.FailedResponse)
			}
			if string(got.Extra["endpoint"]) != `"e1"` {
				t.Fatalf("endpoint = %s, want \"e1\"", got.Extra["endpoint"])
			}
		})
	}
}

func TestRollbackUndoesNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	first := seed(t, f, "s1", "k1", base)
	seed(t, f, "s2", "k2", base)

	tx := txn.New()
	later := event.At(base.Add(24 * time.Hour))
	if _, err := c.Update(ctx, "s1", "k1", event.Updates{RunAt: &later}, tx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := c.Remove(ctx, "s2", "k2", tx); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	mark := len(f.Calls())
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	undoCalls := f.Calls()[mark:]
	want := []string{"POST /s2/k2", "PUT /s1/k1"}
	if strings.Join(undoCalls, ",") != strings.Join(want, ",") {
		t.Fatalf("undo calls = %v, want %v", undoCalls, want)
	}

	restored, err := c.Get(ctx, "s1", "k1")
	if err != nil || restored == nil || restored.RunAt != first.RunAt {
		t.Fatalf("s1/k1 after rollback = %+v, %v; want run_at %d", restored, err, first.RunAt)
	}
	if ev, _ := c.Get(ctx, "s2", "k2"); ev == nil {
		t.Fatal("s2/k2 not re-created")
	}
}

func TestAmbientTransactionFromContext(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	seed(t, f, "s", "k", time.Now())

	tx := txn.New()
	ctx := ContextWithTx(context.Background(), tx)
	if _, err := c.Remove(ctx, "s", "k", nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if tx.Len() != 1 {
		t.Fatalf("ambient tx got %d undos, want 1", tx.Len())
	}
	// The undo runs with the same ambient context and must not register
	// compensations of its own.
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if ev, _ := c.Get(context.Background(), "s", "k"); ev == nil {
		t.Fatal("event not restored")
	}
}

func TestCompensationPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  CompensationPolicy
		wantErr bool
	}{
		{name: "best effort swallows", policy: BestEffort, wantErr: false},
		{name: "strict propagates", policy: Strict, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFakeService()
			rec := &hookRecorder{}
			c := newTestClient(f, WithCompensationHook(rec.hook))
			c.Apply(Config{Endpoint: fakeEndpoint, Policy: tt.policy})
			seed(t, f, "s", "k", time.Now())

			tx := txn.New()
			if _, err := c.Remove(context.Background(), "s", "k", tx); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			f.mu.Lock()
			f.intercept = func(req *Request) (*Response, error) {
				if req.Method == http.MethodPost {
					return nil, errors.New("connection reset")
				}
				return nil, nil
			}
			f.mu.Unlock()

			err := tx.Rollback(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Rollback err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !IsKind(err, KindTransport) {
				t.Fatalf("Rollback err = %v, want transport kind", err)
			}

			last := rec.reports[len(rec.reports)-1]
			if last.Stage != StageFailed || last.Err == nil || last.Policy != tt.policy {
				t.Fatalf("last report = %+v, want failed with error", last)
			}
		})
	}
}

func TestRegistrationFailureSkipsMutation(t *testing.T) {
	t.Parallel()

	f := newFakeService()
	c := newTestClient(f)
	seed(t, f, "s", "k", time.Now())

	tx := txn.New()
	_ = tx.Commit()
	_, err := c.Remove(context.Background(), "s", "k", tx)
	if !IsKind(err, KindValidation) {
		t.Fatalf("err = %v, want validation kind", err)
	}
	if ev, _ := c.Get(context.Background(), "s", "k"); ev == nil {
		t.Fatal("event removed although registration failed")
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]CompensationPolicy{"": BestEffort, "best_effort": BestEffort, "STRICT": Strict} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Fatal("expected error")
	}
}
