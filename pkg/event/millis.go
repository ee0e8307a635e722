package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Millis is a point in time as epoch milliseconds.
//
// It is the only representation of time that goes on the wire: it always
// marshals to a JSON integer. Unmarshal is lenient and accepts integers,
// floats, numeric strings and RFC3339 strings so responses from older
// servers still decode.
type Millis int64

// At converts t to epoch milliseconds.
func At(t time.Time) Millis { return Millis(t.UnixMilli()) }

// Time returns m as a UTC time.
func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)).UTC() }

// IsZero reports whether m is the epoch (unset).
func (m Millis) IsZero() bool { return m == 0 }

func (m Millis) String() string { return strconv.FormatInt(int64(m), 10) }

func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(m), 10), nil
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := ParseMillis(str)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("run_at: %w", err)
	}
	v, err := ParseMillis(f)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMillis coerces a timestamp-like or date-like value to epoch
// milliseconds.
//
// Accepted inputs: Millis, time.Time, *time.Time, integer and float kinds
// (taken as milliseconds), json.Number, and strings holding either an
// integer or an RFC3339 timestamp.
func ParseMillis(v any) (Millis, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case Millis:
		return x, nil
	case *Millis:
		if x == nil {
			return 0, nil
		}
		return *x, nil
	case time.Time:
		if x.IsZero() {
			return 0, nil
		}
		return At(x), nil
	case *time.Time:
		if x == nil || x.IsZero() {
			return 0, nil
		}
		return At(*x), nil
	case int:
		return Millis(x), nil
	case int32:
		return Millis(x), nil
	case int64:
		return Millis(x), nil
	case uint32:
		return Millis(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %d out of range", x)
		}
		return Millis(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("invalid timestamp %v", x)
		}
		return Millis(math.Round(x)), nil
	case json.Number:
		return ParseMillis(string(x))
	case string:
		return parseMillisString(x)
	default:
		return 0, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseMillisString(raw string) (Millis, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Millis(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return ParseMillis(f)
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t), nil
		}
	}
	return 0, fmt.Errorf("invalid timestamp %q (use epoch milliseconds or RFC3339)", raw)
}
