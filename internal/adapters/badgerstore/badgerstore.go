// Package badgerstore is the persistent binding of the document store port,
// backed by BadgerDB. Documents live under "doc/<index>/<id>" so an index
// scan is a single prefix iteration. Query evaluation is shared with the
// memory backend through docmatch.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/flowlens/flowlens/internal/domain"
	"github.com/flowlens/flowlens/internal/helpers/docmatch"
	"github.com/flowlens/flowlens/internal/ports"
)

const keyPrefix = "doc/"

type Store struct {
	db          *badger.DB
	maxDocBytes int
	logger      *slog.Logger
}

type Config struct {
	DataDir string
	// MaxDocBytes rejects documents above this size as too-large bulk
	// failures. Zero disables the limit.
	MaxDocBytes int
	// InMemory runs badger without files, used by tests.
	InMemory bool
}

var _ ports.DocumentStorePort = (*Store)(nil)

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.DataDir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.NewStorageError("open badger database", err)
	}

	return &Store{
		db:          db,
		maxDocBytes: cfg.MaxDocBytes,
		logger:      logger.With("component", "store", "backend", "badger"),
	}, nil
}

func docKey(index, id string) []byte {
	return []byte(keyPrefix + index + "/" + id)
}

func indexPrefix(index string) []byte {
	return []byte(keyPrefix + index + "/")
}

func (s *Store) BulkUpsert(ctx context.Context, index string, docs []ports.Document) (*ports.BulkResult, error) {
	return s.bulkUpsert(ctx, index, docs, nil)
}

// BulkUpdateGuarded merges like BulkUpsert but evaluates each document's
// guard inside the write transaction, so the approved current state cannot
// change before the merge commits.
func (s *Store) BulkUpdateGuarded(ctx context.Context, index string, docs []ports.Document, guard ports.UpdateGuard) (*ports.BulkResult, error) {
	return s.bulkUpsert(ctx, index, docs, guard)
}

func (s *Store) bulkUpsert(ctx context.Context, index string, docs []ports.Document, guard ports.UpdateGuard) (*ports.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ports.BulkResult{}
	err := s.db.Update(func(txn *badger.Txn) error {
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

			var current json.RawMessage
			item, err := txn.Get(docKey(index, doc.ID))
			if err == nil {
				current, err = item.ValueCopy(nil)
				if err != nil {
					return err
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			if guard != nil {
				rejected, err := guardRejects(current, doc.Source, guard)
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

			merged, err := domain.MergeDocuments(current, doc.Source)
			if err != nil {
				result.Failures = append(result.Failures, ports.BulkFailure{
					ID:     doc.ID,
					Reason: err.Error(),
				})
				continue
			}

			if err := txn.Set(docKey(index, doc.ID), merged); err != nil {
				return err
			}
			result.Succeeded++
		}
		return nil
	})
	if err != nil {
		return nil, s.storageError("bulk upsert", err)
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

	var matched []ports.Document
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = indexPrefix(index)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			source, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			fields, err := docmatch.Decode(source)
			if err != nil {
				continue
			}
			if !docmatch.Match(query, fields) {
				continue
			}

			id := strings.TrimPrefix(string(item.Key()), string(indexPrefix(index)))
			matched = append(matched, ports.Document{ID: id, Source: source})
		}
		return nil
	})
	if err != nil {
		return nil, s.storageError("search", err)
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

	moved := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = indexPrefix(sourceIndex)
		it := txn.NewIterator(iterOpts)

		type copyOp struct {
			id     string
			source []byte
		}
		var copies []copyOp

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			source, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			fields, err := docmatch.Decode(source)
			if err != nil {
				continue
			}
			if !anyKeyMatches(fields[keyField], keys) {
				continue
			}

			id := strings.TrimPrefix(string(item.Key()), string(indexPrefix(sourceIndex)))
			copies = append(copies, copyOp{id: id, source: source})
		}
		it.Close()

		// Writes by id overwrite, so a retried batch never duplicates
		// documents in the destination.
		for _, c := range copies {
			if err := txn.Set(docKey(destIndex, c.id), c.source); err != nil {
				return err
			}
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, s.storageError("reindex", err)
	}

	return moved, nil
}

func (s *Store) DeleteByKeys(ctx context.Context, index, keyField string, keys []interface{}) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = indexPrefix(index)
		it := txn.NewIterator(iterOpts)

		var victims [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			source, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			fields, err := docmatch.Decode(source)
			if err != nil {
				continue
			}
			if !anyKeyMatches(fields[keyField], keys) {
				continue
			}
			victims = append(victims, item.KeyCopy(nil))
		}
		it.Close()

		for _, key := range victims {
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, s.storageError("delete by keys", err)
	}

	return deleted, nil
}

// Refresh is a no-op: badger transactions are immediately visible.
func (s *Store) Refresh(ctx context.Context, indexPattern string) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) storageError(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return domain.ErrClosed
	}
	return domain.NewStorageError(op, err)
}

func anyKeyMatches(value interface{}, keys []interface{}) bool {
	for _, key := range keys {
		if docmatch.Compare(value, key) == 0 {
			return true
		}
	}
	return false
}
