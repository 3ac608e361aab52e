package exact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date is an Exact Online timestamp, serialised as "/Date(<unix ms>)/".
type Date struct {
	time.Time
}

// ParseDate parses the "/Date(<unix ms>)/" notation. An optional offset
// suffix such as "+0100" is ignored because the millisecond value is UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "/Date(") || !strings.HasSuffix(s, ")/") {
		return time.Time{}, fmt.Errorf("invalid exact date %q", s)
	}
	inner := s[len("/Date(") : len(s)-len(")/")]
	if inner == "" {
		return time.Time{}, fmt.Errorf("invalid exact date %q", s)
	}
	if i := strings.IndexAny(inner[1:], "+-"); i >= 0 {
		inner = inner[:i+1]
	}
	ms, err := strconv.ParseInt(inner, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exact date %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// UnmarshalJSON accepts null, the /Date()/ notation and RFC 3339 strings.
func (d *Date) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid exact date: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(s, "/Date(") {
		t, err := ParseDate(s)
		if err != nil {
			return err
		}
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid exact date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// MarshalJSON writes the /Date()/ notation, or null for the zero time.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(fmt.Sprintf("/Date(%d)/", d.UnixMilli()))
}
