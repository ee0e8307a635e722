package event

import (
	"bytes"
	"encoding/json"
)

// Recurring is an opaque recurrence specification.
//
// The zero value means one-shot and marshals as `false`. Anything else is
// kept as raw JSON and passed through to the server byte for byte.
type Recurring struct {
	raw json.RawMessage
}

// OneShot is the non-recurring value.
var OneShot = Recurring{}

// RecurringSpec wraps an arbitrary JSON-serializable specification.
func RecurringSpec(v any) (Recurring, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Recurring{}, err
	}
	return RecurringRaw(b), nil
}

// RecurringRaw wraps raw JSON. `false`, `null` and empty input are one-shot.
func RecurringRaw(b []byte) Recurring {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("false")) || bytes.Equal(t, []byte("null")) {
		return Recurring{}
	}
	return Recurring{raw: append(json.RawMessage(nil), t...)}
}

// IsRecurring reports whether a recurrence specification is attached.
func (r Recurring) IsRecurring() bool { return len(r.raw) > 0 }

// Raw returns a copy of the specification, or nil for one-shot.
func (r Recurring) Raw() json.RawMessage {
	if len(r.raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), r.raw...)
}

// Equal compares the raw specifications byte for byte.
func (r Recurring) Equal(o Recurring) bool { return bytes.Equal(r.raw, o.raw) }

func (r Recurring) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("false"), nil
	}
	return r.Raw(), nil
}

func (r *Recurring) UnmarshalJSON(b []byte) error {
	*r = RecurringRaw(b)
	return nil
}
