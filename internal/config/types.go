package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const redactedText = "[REDACTED]"

// Duration is a time.Duration that YAML files and environment variables
// spell as "30s" or "1m30s". Negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration().String()), nil }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a credential. Every formatting and marshaling path prints
// "[REDACTED]" (or "" when unset); only Value returns the text.
type Secret string

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return redactedText
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string { return s.masked() }

func (s Secret) GoString() string { return "Secret(" + redactedText + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.masked()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.masked()), nil }

// UnmarshalText accepts the raw secret, trimming surrounding whitespace
// left by .env files.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}

// ByteSize is a byte count written as "1048576", "512K", "32M" or "1G".
// A trailing "B" and lower case are accepted.
type ByteSize int64

var byteSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"G", 30},
	{"M", 20},
	{"K", 10},
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(string(text))), "B")
	if raw == "" {
		return fmt.Errorf("empty byte size")
	}

	var shift uint
	for _, s := range byteSuffixes {
		if strings.HasSuffix(raw, s.suffix) {
			raw, shift = strings.TrimSuffix(raw, s.suffix), s.shift
			break
		}
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	if n < 0 {
		return fmt.Errorf("byte size cannot be negative: %s", text)
	}
	*b = ByteSize(n << shift)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// String uses the largest suffix that divides the size exactly.
func (b ByteSize) String() string {
	n := int64(b)
	if n != 0 {
		for _, s := range byteSuffixes {
			if n%(1<<s.shift) == 0 {
				return strconv.FormatInt(n>>s.shift, 10) + s.suffix
			}
		}
	}
	return strconv.FormatInt(n, 10)
}

func (b ByteSize) Int64() int64 { return int64(b) }
