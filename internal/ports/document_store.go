package ports

import (
	"context"

	json "github.com/goccy/go-json"
)

// Document is one stored entity: an id plus its JSON source.
type Document struct {
	ID     string
	Source json.RawMessage
}

// Query is the subset of the search backend's filter surface the pipeline
// needs. All groups are ANDed together; AnyOf matches when the field equals
// one of the listed values.
type Query struct {
	Terms   map[string]interface{}
	AnyOf   map[string][]interface{}
	Range   map[string]RangeCondition
	Exists  []string
	Missing []string
}

// RangeCondition bounds a field. Nil bounds are open. Time-valued fields
// compare chronologically regardless of serialized precision.
type RangeCondition struct {
	GTE interface{}
	LTE interface{}
}

type SearchOptions struct {
	SortField   string
	SortAsc     bool
	Size        int
	SearchAfter interface{}
}

type SearchResult struct {
	Docs  []Document
	Total int
}

// BulkResult reports a bulk upsert. A partially failed bulk is NOT an error
// return: the failed documents are listed here so callers can isolate and
// retry them without failing their siblings.
type BulkResult struct {
	Succeeded int
	Failures  []BulkFailure
}

type BulkFailure struct {
	ID        string
	Reason    string
	TooLarge  bool
	Conflict  bool
	Retriable bool
}

// UpdateGuard approves one partial update given the document's current
// decoded fields. A nil current map means the document does not exist yet.
// Rejected updates come back as Conflict bulk failures and leave the stored
// document untouched.
type UpdateGuard func(current, update map[string]interface{}) bool

// DocumentStorePort is the capability required from the search backend.
// BulkUpsert merges partial documents into existing ones (fields absent from
// the update are preserved). BulkUpdateGuarded is the same merge but each
// document's guard runs under the store's write lock, so concurrent writers
// cannot interleave between the read and the merge. An unreachable backend
// surfaces as a domain.ErrorTypeUnavailable error and must abort the
// caller's round.
type DocumentStorePort interface {
	BulkUpsert(ctx context.Context, index string, docs []Document) (*BulkResult, error)
	BulkUpdateGuarded(ctx context.Context, index string, docs []Document, guard UpdateGuard) (*BulkResult, error)
	Search(ctx context.Context, index string, query Query, opts SearchOptions) (*SearchResult, error)
	Reindex(ctx context.Context, sourceIndex, destIndex, keyField string, keys []interface{}) (int, error)
	DeleteByKeys(ctx context.Context, index, keyField string, keys []interface{}) (int, error)
	Refresh(ctx context.Context, indexPattern string) error
	Close() error
}
