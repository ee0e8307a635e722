package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"eventsched/internal/app"
	"eventsched/internal/storage"
	"eventsched/internal/when"
	"eventsched/pkg/event"
	"eventsched/pkg/scheduler"
)

// headerFlag collects repeated -header name=value flags.
type headerFlag map[string]string

func (h headerFlag) String() string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+h[k])
	}
	return strings.Join(parts, ",")
}

func (h headerFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("header must be name=value, got %q", v)
	}
	h[strings.TrimSpace(k)] = strings.TrimSpace(val)
	return nil
}

// requestFlags are the flags describing the deferred call.
type requestFlags struct {
	href     string
	host     string
	protocol string
	port     int
	method   string
	path     string
	data     string
	headers  headerFlag
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	r.headers = headerFlag{}
	fs.StringVar(&r.href, "href", "", "absolute URL of the deferred call")
	fs.StringVar(&r.host, "host", "", "host of the deferred call")
	fs.StringVar(&r.protocol, "protocol", "", "protocol of the deferred call (http/https)")
	fs.IntVar(&r.port, "port", 0, "port of the deferred call")
	fs.StringVar(&r.method, "method", "", "HTTP method of the deferred call")
	fs.StringVar(&r.path, "path", "", "path of the deferred call")
	fs.StringVar(&r.data, "data", "", "JSON body of the deferred call")
	fs.Var(r.headers, "header", "header name=value (repeatable)")
}

func (r *requestFlags) set() bool {
	return r.href != "" || r.host != "" || r.protocol != "" || r.port != 0 ||
		r.method != "" || r.path != "" || r.data != "" || len(r.headers) > 0
}

func (r *requestFlags) build() (event.Request, error) {
	var data json.RawMessage
	if s := strings.TrimSpace(r.data); s != "" {
		if !json.Valid([]byte(s)) {
			return event.Request{}, fmt.Errorf("-data is not valid JSON")
		}
		data = json.RawMessage(s)
	}
	if r.href != "" {
		return event.RequestFromHref(event.HrefRequest{
			Href:    r.href,
			Headers: r.headers,
			Method:  r.method,
			Body:    data,
		})
	}
	return event.Request{
		Host:     r.host,
		Protocol: r.protocol,
		Port:     r.port,
		Headers:  r.headers,
		Method:   r.method,
		Path:     r.path,
		Data:     data,
	}, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func identityFlags(fs *flag.FlagSet) (slug, key *string) {
	return fs.String("slug", "", "event slug"), fs.String("key", "", "event key")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAdd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("add")
	slug, key := identityFlags(fs)
	at := fs.String("at", "+1h", "run time (RFC3339, epoch ms, +90m, HH:MM or cron)")
	recurring := fs.String("recurring", "", "recurrence specification as JSON")
	var rf requestFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := rf.build()
	if err != nil {
		return err
	}
	runAt, err := when.Resolve(*at, a.Location())
	if err != nil {
		return err
	}
	ev, err := a.Client().Add(ctx, *slug, *key, event.Params{
		Request:   req,
		RunAt:     runAt,
		Recurring: event.RecurringRaw([]byte(*recurring)),
	})
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func runGet(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("get")
	slug, key := identityFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ev, err := a.Client().Get(ctx, *slug, *key)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func runList(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("list")
	slug := fs.String("slug", "", "only events with this slug")
	before := fs.String("before", "", "only events running before this time")
	after := fs.String("after", "", "only events running after this time")
	failed := fs.String("failed", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bound := func(raw string) (any, error) {
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		return when.Resolve(raw, a.Location())
	}
	b, err := bound(*before)
	if err != nil {
		return err
	}
	af, err := bound(*after)
	if err != nil {
		return err
	}
	f, err := scheduler.FilterFromValues(*slug, b, af, *failed)
	if err != nil {
		return err
	}
	evs, err := a.Client().List(ctx, f)
	if err != nil {
		return err
	}
	return printJSON(evs)
}

// keysFlag collects repeated -key flags.
type keysFlag []string

func (k *keysFlag) String() string     { return strings.Join(*k, ",") }
func (k *keysFlag) Set(v string) error { *k = append(*k, v); return nil }

func runRemove(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("remove")
	slug := fs.String("slug", "", "event slug")
	var keys keysFlag
	fs.Var(&keys, "key", "event key (repeatable)")
	atomic := fs.Bool("atomic", false, "with several keys, restore all of them if any removal fails")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(keys) <= 1 {
		key := ""
		if len(keys) == 1 {
			key = keys[0]
		}
		n, err := a.Client().Remove(ctx, *slug, key, nil)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"deleted": n})
	}
	res, err := a.RemoveMany(ctx, *slug, keys, *atomic)
	if res != nil {
		if perr := printJSON(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func runUpdate(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("update")
	slug, key := identityFlags(fs)
	at := fs.String("at", "", "new run time")
	recurring := fs.String("recurring", "", "new recurrence specification as JSON (false for one-shot)")
	var rf requestFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var u event.Updates
	if strings.TrimSpace(*at) != "" {
		ms, err := when.Resolve(*at, a.Location())
		if err != nil {
			return err
		}
		u.RunAt = &ms
	}
	if strings.TrimSpace(*recurring) != "" {
		r := event.RecurringRaw([]byte(*recurring))
		u.Recurring = &r
	}
	if rf.set() {
		req, err := rf.build()
		if err != nil {
			return err
		}
		u.Request = &req
	}
	if u.IsEmpty() {
		return fmt.Errorf("update: nothing to change")
	}
	ev, err := a.Client().Update(ctx, *slug, *key, u, nil)
	if err != nil {
		return err
	}
	return printJSON(ev)
}

func runJournal(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("journal")
	txID := fs.String("tx", "", "only records of this transaction")
	slug := fs.String("slug", "", "only records for this slug")
	stage := fs.String("stage", "", "registered|started|completed|failed")
	since := fs.Duration("since", 0, "only records newer than this (e.g. 24h)")
	limit := fs.Int("limit", 50, "newest N records (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	j := a.Journal()
	if j == nil {
		return storage.ErrDisabled
	}
	f := storage.Filter{TxID: *txID, Slug: *slug, Stage: *stage, Limit: *limit}
	if *since > 0 {
		f.Since = time.Now().Add(-*since)
	}
	recs, err := j.List(ctx, f)
	if err != nil {
		return err
	}
	return printJSON(recs)
}
