package models

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Update operators understood in an update payload.
const (
	OperatorSet   = "$set"
	OperatorUnset = "$unset"
)

// Update is the decoded form of an update payload.
type Update struct {
	Set   map[string]any
	Unset []string
}

// IsEmpty reports whether applying u would change nothing.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0
}

// ParseUpdate extracts $set and $unset from an update payload. Any other
// top-level field except _id is rejected.
func ParseUpdate(payload map[string]any) (Update, error) {
	var u Update
	for k, v := range payload {
		switch k {
		case IDField:
		case OperatorSet:
			set, err := asDocument(v)
			if err != nil {
				return Update{}, fmt.Errorf("%s: %w", OperatorSet, err)
			}
			u.Set = set
		case OperatorUnset:
			switch fields := v.(type) {
			case []any:
				for _, f := range fields {
					name, ok := f.(string)
					if !ok {
						return Update{}, fmt.Errorf("%s: field names must be strings", OperatorUnset)
					}
					u.Unset = append(u.Unset, name)
				}
			default:
				doc, err := asDocument(v)
				if err != nil {
					return Update{}, fmt.Errorf("%s: %w", OperatorUnset, err)
				}
				for name := range doc {
					u.Unset = append(u.Unset, name)
				}
			}
		default:
			return Update{}, fmt.Errorf("unsupported update field %q", k)
		}
	}
	sort.Strings(u.Unset)
	return u, nil
}

// ApplyUpdate returns a copy of doc with u merged in. Dotted field names
// address nested documents; missing intermediate documents are created by
// $set and ignored by $unset.
func ApplyUpdate(doc map[string]any, u Update) map[string]any {
	out := deepCopy(doc)
	keys := make([]string, 0, len(u.Set))
	for k := range u.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setPath(out, strings.Split(k, "."), u.Set[k])
	}
	for _, k := range u.Unset {
		unsetPath(out, strings.Split(k, "."))
	}
	return out
}

func setPath(doc map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := doc[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[p] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = v
}

func unsetPath(doc map[string]any, path []string) {
	for _, p := range path[:len(path)-1] {
		next, ok := doc[p].(map[string]any)
		if !ok {
			return
		}
		doc = next
	}
	delete(doc, path[len(path)-1])
}

func deepCopy(doc map[string]any) map[string]any {
	out := maps.Clone(doc)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
		}
	}
	return out
}
