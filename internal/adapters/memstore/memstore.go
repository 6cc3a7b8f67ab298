// Package memstore is the in-memory binding of the document store port. It
// carries the full query surface of the port so the pipeline runs unchanged
// against it, which also makes it the test double for every component above
// the port.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/helpers/docmatch"
	"github.com/flowlens/flowlens/internal/ports"
)

type Store struct {
	mu          sync.RWMutex
	indices     map[string]map[string]json.RawMessage
	maxDocBytes int
	unavailable bool
	closed      bool
	logger      *slog.Logger
}

type Config struct {
	// MaxDocBytes rejects documents above this size as too-large bulk
	// failures, mirroring the reference backend's field-size limit. Zero
	// disables the limit.
	MaxDocBytes int
}

func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		indices:     make(map[string]map[string]json.RawMessage),
		maxDocBytes: cfg.MaxDocBytes,
		logger:      logger.With("component", "store", "backend", "memory"),
	}
}

// SetUnavailable makes every subsequent call fail with a transient error
// until cleared. Tests use it to drive the unavailable branch of the
// pipeline's failure semantics.
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func (s *Store) BulkUpsert(ctx context.Context, index string, docs []ports.Document) (*ports.BulkResult, error) {
	return s.bulkUpsert(ctx, index, docs, nil)
}

// BulkUpdateGuarded merges like BulkUpsert but runs each document's guard
// under the store lock, so the approved current state cannot change before
// the merge lands.
func (s *Store) BulkUpdateGuarded(ctx context.Context, index string, docs []ports.Document, guard ports.UpdateGuard) (*ports.BulkResult, error) {
	return s.bulkUpsert(ctx, index, docs, guard)
}

func (s *Store) bulkUpsert(ctx context.Context, index string, docs []ports.Document, guard ports.UpdateGuard) (*ports.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return nil, err
	}

	idx := s.indices[index]
	if idx == nil {
		idx = make(map[string]json.RawMessage)
		s.indices[index] = idx
	}

	result := &ports.BulkResult{}
	for _, doc := range docs {
		if doc.ID == "" {
			result.Failures = append(result.Failures, ports.BulkFailure{
				ID:     doc.ID,
				Reason: "document id must not be empty",
			})
			continue
		}

		if s.maxDocBytes > 0 && len(doc.Source) > s.maxDocBytes {
			result.Failures = append(result.Failures, ports.BulkFailure{
				ID:       doc.ID,
				Reason:   fmt.Sprintf("document of %d bytes exceeds limit of %d", len(doc.Source), s.maxDocBytes),
				TooLarge: true,
			})
			continue
		}

		if guard != nil {
			rejected, err := guardRejects(idx[doc.ID], doc.Source, guard)
			if err != nil {
				result.Failures = append(result.Failures, ports.BulkFailure{
					ID:     doc.ID,
					Reason: err.Error(),
				})
				continue
			}
			if rejected {
				result.Failures = append(result.Failures, ports.BulkFailure{
					ID:       doc.ID,
					Reason:   "update rejected by guard, stored document unchanged",
					Conflict: true,
				})
				continue
			}
		}

		merged, err := domain.MergeDocuments(idx[doc.ID], doc.Source)
		if err != nil {
			result.Failures = append(result.Failures, ports.BulkFailure{
				ID:     doc.ID,
				Reason: err.Error(),
			})
			continue
		}

		idx[doc.ID] = merged
		result.Succeeded++
	}

	return result, nil
}

func guardRejects(current, update json.RawMessage, guard ports.UpdateGuard) (bool, error) {
	updateFields, err := docmatch.Decode(update)
	if err != nil {
		return false, err
	}

	var currentFields map[string]interface{}
	if current != nil {
		currentFields, err = docmatch.Decode(current)
		if err != nil {
			return false, err
		}
	}

	return !guard(currentFields, updateFields), nil
}

func (s *Store) Search(ctx context.Context, index string, query ports.Query, opts ports.SearchOptions) (*ports.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkState(); err != nil {
		return nil, err
	}

	var matched []ports.Document
	for id, source := range s.indices[index] {
		fields, err := docmatch.Decode(source)
		if err != nil {
			continue
		}
		if !docmatch.Match(query, fields) {
			continue
		}
		matched = append(matched, ports.Document{ID: id, Source: source})
	}

	if opts.SortField != "" {
		docmatch.SortDocs(matched, opts.SortField, opts.SortAsc)
	}

	if opts.SearchAfter != nil && opts.SortField != "" {
		cut := 0
		for i, doc := range matched {
			fields, err := docmatch.Decode(doc.Source)
			if err != nil {
				continue
			}
			cmp := docmatch.Compare(fields[opts.SortField], opts.SearchAfter)
			if (opts.SortAsc && cmp > 0) || (!opts.SortAsc && cmp < 0) {
				cut = i
				break
			}
			cut = i + 1
		}
		matched = matched[cut:]
	}

	total := len(matched)
	if opts.Size > 0 && len(matched) > opts.Size {
		matched = matched[:opts.Size]
	}

	return &ports.SearchResult{Docs: matched, Total: total}, nil
}

func (s *Store) Reindex(ctx context.Context, sourceIndex, destIndex, keyField string, keys []interface{}) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return 0, err
	}

	dest := s.indices[destIndex]
	if dest == nil {
		dest = make(map[string]json.RawMessage)
		s.indices[destIndex] = dest
	}

	moved := 0
	for id, source := range s.indices[sourceIndex] {
		fields, err := docmatch.Decode(source)
		if err != nil {
			continue
		}
		if !anyKeyMatches(fields[keyField], keys) {
			continue
		}

		// Re-running an interrupted batch overwrites the same ids, so a
		// retried reindex never duplicates documents in the destination.
		dest[id] = source
		moved++
	}

	return moved, nil
}

func (s *Store) DeleteByKeys(ctx context.Context, index, keyField string, keys []interface{}) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(); err != nil {
		return 0, err
	}

	idx := s.indices[index]
	deleted := 0
	for id, source := range idx {
		fields, err := docmatch.Decode(source)
		if err != nil {
			continue
		}
		if !anyKeyMatches(fields[keyField], keys) {
			continue
		}
		delete(idx, id)
		deleted++
	}

	return deleted, nil
}

func (s *Store) Refresh(ctx context.Context, indexPattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkState()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkState() error {
	if s.closed {
		return domain.ErrClosed
	}
	if s.unavailable {
		return domain.NewUnavailableError("document store", fmt.Errorf("store marked unavailable"))
	}
	return nil
}

func anyKeyMatches(value interface{}, keys []interface{}) bool {
	for _, key := range keys {
		if docmatch.Compare(value, key) == 0 {
			return true
		}
	}
	return false
}
