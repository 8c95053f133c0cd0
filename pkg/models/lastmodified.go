package models

import (
	"fmt"
	"time"
)

// LastModifiedField is the document field holding a record's modification
// time. The newest value across a store is its initial point.
const LastModifiedField = "_last_modified"

// LastModifiedLayout is the layout the mirror uses for LastModifiedField and
// expects back in init-point replies.
const LastModifiedLayout = "2006-01-02T15:04:05.000000"

// ParseLastModified accepts the mirror's layout and RFC 3339. Values without
// a zone are UTC.
func ParseLastModified(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range []string{LastModifiedLayout, time.RFC3339Nano} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%s: cannot parse %q", LastModifiedField, x)
	default:
		return time.Time{}, fmt.Errorf("%s: unsupported type %T", LastModifiedField, v)
	}
}

// FormatLastModified renders t the way the mirror expects it.
func FormatLastModified(t time.Time) string {
	return t.UTC().Format(LastModifiedLayout)
}

// NormalizeLastModified returns a copy of doc whose LastModifiedField, when
// present, is a time.Time.
func NormalizeLastModified(doc map[string]any) (map[string]any, error) {
	v, ok := doc[LastModifiedField]
	if !ok || v == nil {
		return doc, nil
	}
	t, err := ParseLastModified(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(doc))
	for k, val := range doc {
		out[k] = val
	}
	out[LastModifiedField] = t
	return out, nil
}
