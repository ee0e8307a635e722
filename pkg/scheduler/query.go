package scheduler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"eventsched/pkg/event"
)

// ListFilter narrows a list request. Nil fields are omitted.
type ListFilter struct {
	Slug   *string
	Before *event.Millis
	After  *event.Millis
	Failed *bool
}

// IsEmpty reports whether no filter is set.
func (f ListFilter) IsEmpty() bool {
	return f.Slug == nil && f.Before == nil && f.After == nil && f.Failed == nil
}

// EncodeQuery renders f as a query string with a fixed field order:
// slug, before, after, failed. An empty filter yields "".
func EncodeQuery(f ListFilter) string {
	parts := make([]string, 0, 4)
	if f.Slug != nil {
		parts = append(parts, "slug="+queryEscape(*f.Slug))
	}
	if f.Before != nil {
		parts = append(parts, "before="+strconv.FormatInt(int64(*f.Before), 10))
	}
	if f.After != nil {
		parts = append(parts, "after="+strconv.FormatInt(int64(*f.After), 10))
	}
	if f.Failed != nil {
		parts = append(parts, "failed="+strconv.FormatBool(*f.Failed))
	}
	return strings.Join(parts, "&")
}

// queryEscape percent-encodes s, spaces as %20.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ParseFailed accepts "true"/"false" in any case.
func ParseFailed(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("failed filter must be true or false, got %q", s)
	}
}

// FilterFromValues builds a filter from loosely typed inputs, as they come
// from flags or decoded JSON. Empty strings and nils are treated as absent;
// before/after accept anything event.ParseMillis accepts.
func FilterFromValues(slug string, before, after, failed any) (ListFilter, error) {
	var f ListFilter
	if s := strings.TrimSpace(slug); s != "" {
		f.Slug = &s
	}
	var err error
	if f.Before, err = optionalMillis("before", before); err != nil {
		return ListFilter{}, err
	}
	if f.After, err = optionalMillis("after", after); err != nil {
		return ListFilter{}, err
	}
	switch v := failed.(type) {
	case nil:
	case bool:
		f.Failed = &v
	case *bool:
		if v != nil {
			b := *v
			f.Failed = &b
		}
	case string:
		if strings.TrimSpace(v) == "" {
			break
		}
		b, err := ParseFailed(v)
		if err != nil {
			return ListFilter{}, err
		}
		f.Failed = &b
	default:
		return ListFilter{}, fmt.Errorf("failed filter: unsupported type %T", failed)
	}
	return f, nil
}

func optionalMillis(name string, v any) (*event.Millis, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	ms, err := event.ParseMillis(v)
	if err != nil {
		return nil, fmt.Errorf("%s filter: %w", name, err)
	}
	return &ms, nil
}
