package storefront

import (
	"fmt"
	"strconv"
	"strings"
)

// keySep never appears in a formatted segment.
const keySep = "\x1f"

// Key identifies a cached resource and its parameters. It is an ordered tuple
// of primitive segments; two keys are equal iff all segments are equal by value,
// so Key can be compared with == and used as a map key.
type Key struct {
	enc string
	n   int
}

// NewKey builds a key from primitive segments. Named parameters are written as
// adjacent segments, e.g. NewKey("seller-list", "page", 2, "limit", 9).
// It panics on non-primitive segments, the same way regexp.MustCompile does on
// a bad pattern: keys are declared by code, not by users.
func NewKey(segments ...any) Key {
	parts := make([]string, len(segments))
	for i, s := range segments {
		p, err := formatSegment(s)
		if err != nil {
			panic(err)
		}
		parts[i] = p
	}
	return Key{enc: strings.Join(parts, keySep), n: len(parts)}
}

func formatSegment(s any) (string, error) {
	switch v := s.(type) {
	case string:
		return "s" + strconv.Quote(v), nil
	case bool:
		return "b" + strconv.FormatBool(v), nil
	case int:
		return "i" + strconv.FormatInt(int64(v), 10), nil
	case int8:
		return "i" + strconv.FormatInt(int64(v), 10), nil
	case int16:
		return "i" + strconv.FormatInt(int64(v), 10), nil
	case int32:
		return "i" + strconv.FormatInt(int64(v), 10), nil
	case int64:
		return "i" + strconv.FormatInt(v, 10), nil
	case uint:
		return "u" + strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return "u" + strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return "u" + strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return "u" + strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return "u" + strconv.FormatUint(v, 10), nil
	case float32:
		return "f" + strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return "f" + strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrInvalidKeySegment, s)
	}
}

// Len returns the number of segments.
func (k Key) Len() int {
	return k.n
}

// IsZero reports whether k has no segments.
func (k Key) IsZero() bool {
	return k.n == 0
}

// HasPrefix reports whether the first segments of k equal all segments of p.
// Every key has the zero key as prefix.
func (k Key) HasPrefix(p Key) bool {
	if p.n == 0 {
		return true
	}
	if p.n > k.n || !strings.HasPrefix(k.enc, p.enc) {
		return false
	}
	return len(k.enc) == len(p.enc) || strings.HasPrefix(k.enc[len(p.enc):], keySep)
}

// String renders the key for logs, e.g. ("seller-list","page",2).
func (k Key) String() string {
	if k.n == 0 {
		return "()"
	}
	parts := strings.Split(k.enc, keySep)
	for i, p := range parts {
		parts[i] = p[1:]
	}
	return "(" + strings.Join(parts, ",") + ")"
}
