package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Timecode holds a timestamp exactly as the reasoning backend returned
// it: a JSON number of seconds, a numeric string, or "mm:ss[.ff]".
// Parsing is deferred to Seconds so malformed values are rejected at
// the normalization step, not during decoding.
type Timecode struct {
	raw string
}

// Seconds constructs an already-numeric timecode.
func Seconds(s float64) Timecode {
	return Timecode{raw: strconv.FormatFloat(s, 'f', -1, 64)}
}

func (t Timecode) Raw() string { return t.raw }

func (t *Timecode) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var unq string
		if err := json.Unmarshal(b, &unq); err != nil {
			return err
		}
		s = unq
	}
	t.raw = strings.TrimSpace(s)
	return nil
}

func (t Timecode) MarshalJSON() ([]byte, error) {
	if sec, err := t.Seconds(); err == nil {
		return json.Marshal(sec)
	}
	return json.Marshal(t.raw)
}

// Seconds converts the raw value to seconds. Accepted forms: a plain
// number, "mm:ss", "mm:ss.ff" and "hh:mm:ss[.ff]". Anything else is an
// error, which the selector treats as a corrupted timestamp.
func (t Timecode) Seconds() (float64, error) {
	raw := strings.TrimSpace(t.raw)
	if raw == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if !strings.Contains(raw, ":") {
		sec, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
		return sec, nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse timestamp %q: unexpected form", raw)
	}
	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		} else {
			var n int
			n, err = strconv.Atoi(strings.TrimSpace(p))
			v = float64(n)
		}
		if err != nil || v < 0 {
			return 0, fmt.Errorf("parse timestamp %q: bad component %q", raw, p)
		}
		total = total*60 + v
	}
	return total, nil
}
