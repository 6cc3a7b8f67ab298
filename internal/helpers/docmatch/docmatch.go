// Package docmatch evaluates document-store queries against decoded JSON
// documents. Both the memory and the badger store adapters filter with it, so
// query semantics cannot drift between backends.
package docmatch

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/ports"
)

// Decode unmarshals a document source into a field map.
func Decode(source json.RawMessage) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(source, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Match reports whether a decoded document satisfies every clause of the query.
func Match(q ports.Query, fields map[string]interface{}) bool {
	for field, want := range q.Terms {
		got, ok := fields[field]
		if !ok || Compare(got, want) != 0 {
			return false
		}
	}

	for field, values := range q.AnyOf {
		got, ok := fields[field]
		if !ok {
			return false
		}
		matched := false
		for _, want := range values {
			if Compare(got, want) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for field, cond := range q.Range {
		got, ok := fields[field]
		if !ok {
			return false
		}
		if cond.GTE != nil && Compare(got, cond.GTE) < 0 {
			return false
		}
		if cond.LTE != nil && Compare(got, cond.LTE) > 0 {
			return false
		}
	}

	for _, field := range q.Exists {
		if v, ok := fields[field]; !ok || v == nil {
			return false
		}
	}

	for _, field := range q.Missing {
		if v, ok := fields[field]; ok && v != nil {
			return false
		}
	}

	return true
}

// Compare orders two field values. Times compare chronologically whatever
// their serialized precision, numbers numerically across Go integer and
// float kinds, everything else by string form.
func Compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if ta, aok := asTime(a); aok {
		if tb, bok := asTime(b); bok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}

	if na, aok := asNumber(a); aok {
		if nb, bok := asNumber(b); bok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}

	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// SortDocs orders documents by a field, decoding each source once. Documents
// missing the field sort first on ascending order.
func SortDocs(docs []ports.Document, field string, asc bool) {
	type keyedDoc struct {
		key interface{}
		doc ports.Document
	}

	keyed := make([]keyedDoc, len(docs))
	for i, doc := range docs {
		kd := keyedDoc{doc: doc}
		if fields, err := Decode(doc.Source); err == nil {
			kd.key = fields[field]
		}
		keyed[i] = kd
	}

	sort.SliceStable(keyed, func(i, j int) bool {
		cmp := Compare(keyed[i].key, keyed[j].key)
		if asc {
			return cmp < 0
		}
		return cmp > 0
	})

	for i, kd := range keyed {
		docs[i] = kd.doc
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
