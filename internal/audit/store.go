// Package audit is the durable record of what was last successfully
// transmitted to each channel. The diff engine computes create/update/delete
// buckets against it, so its contents must survive process restarts and stay
// consistent with per-chunk commits.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"channel-sync/internal/domain"
)

// Key prefixes. Every key embeds the channel configuration ID, so the store is
// naturally partitioned per configuration and cross-configuration writes never
// contend.
const (
	contentKeyPrefix   = "content:"
	learnerKeyPrefix   = "learner:"
	surrogateKeyPrefix = "surrogate:"
	surrogateSeqPrefix = "surrogate_seq:"
	catalogMarkPrefix  = "catalog_mark:"
	catalogSetPrefix   = "catalog_set:"
	failureKeyPrefix   = "failure:"
)

// ContentRecord is the last-known-transmitted state for one
// (configuration, content key) pair. At most one active (DeletedAt == nil)
// record exists per pair; delete-transmissions set DeletedAt instead of
// removing the row, to retain provenance.
type ContentRecord struct {
	ContentKey    string     `json:"content_key"`
	RemoteID      string     `json:"remote_id,omitempty"`
	Fingerprint   string     `json:"fingerprint"`
	Snapshot      []byte     `json:"snapshot,omitempty"` // brotli-compressed payload
	TransmittedAt time.Time  `json:"transmitted_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// LearnerRecord is the last-transmitted completion state for one
// (configuration, enrollment) pair. Completed is monotonic: the transmitter
// rejects any regression to false.
type LearnerRecord struct {
	EnrollmentID  string    `json:"enrollment_id"`
	Completed     bool      `json:"completed"`
	Grade         string    `json:"grade"`
	CompletedAt   time.Time `json:"completed_at"`
	Fingerprint   string    `json:"fingerprint"`
	TransmittedAt time.Time `json:"transmitted_at"`
}

// CatalogMark records the catalog freshness seen at the last successful full
// transmission, driving the update-only skip in the exporter.
type CatalogMark struct {
	CatalogID     string    `json:"catalog_id"`
	LastModified  time.Time `json:"last_modified"`
	TransmittedAt time.Time `json:"transmitted_at"`
}

type failureMark struct {
	Count       int    `json:"count"`
	Fingerprint string `json:"fingerprint"`
}

// Store wraps badger with the pipeline's keying scheme.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the audit database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Store{db: db, log: log}, nil
}

// OpenInMemory opens a throwaway store, used by tests and dry runs.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("audit: open in-memory: %w", err)
	}
	return &Store{db: db, log: zerolog.Nop()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func contentKey(configID, key string) []byte {
	return []byte(contentKeyPrefix + configID + ":" + key)
}

// ActiveContentRecords returns all non-deleted content records for a
// configuration, keyed by content key.
func (s *Store) ActiveContentRecords(configID string) (map[string]ContentRecord, error) {
	out := map[string]ContentRecord{}
	prefix := []byte(contentKeyPrefix + configID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec ContentRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if rec.DeletedAt != nil {
				continue
			}
			out[rec.ContentKey] = rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: load content records for %s: %w", configID, err)
	}
	return out, nil
}

// UpsertContentRecords commits the records of one successfully transmitted
// create/update chunk in a single transaction. A successful transmission also
// clears any failure mark for the key.
func (s *Store) UpsertContentRecords(configID string, recs []ContentRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			rec.DeletedAt = nil
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(contentKey(configID, rec.ContentKey), data); err != nil {
				return err
			}
			if err := txn.Delete([]byte(failureKeyPrefix + configID + ":" + rec.ContentKey)); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkContentDeleted marks the records of one successfully transmitted delete
// chunk. Rows are kept with DeletedAt set, never hard-deleted.
func (s *Store) MarkContentDeleted(configID string, keys []string, at time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get(contentKey(configID, key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var rec ContentRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			rec.DeletedAt = &at
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(contentKey(configID, key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordContentFailure tracks consecutive permanent failures per item. The
// count resets when the desired-state fingerprint changes, so an item stuck on
// a validation rejection is retried again once upstream data actually moves.
func (s *Store) RecordContentFailure(configID, key, fingerprint string) error {
	fk := []byte(failureKeyPrefix + configID + ":" + key)
	return s.db.Update(func(txn *badger.Txn) error {
		var mark failureMark
		item, err := txn.Get(fk)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &mark)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if mark.Fingerprint == fingerprint {
			mark.Count++
		} else {
			mark = failureMark{Count: 1, Fingerprint: fingerprint}
		}
		data, err := json.Marshal(mark)
		if err != nil {
			return err
		}
		return txn.Set(fk, data)
	})
}

// ContentFailureCount returns the consecutive permanent-failure count for an
// item, or 0 when the stored fingerprint no longer matches (upstream changed).
func (s *Store) ContentFailureCount(configID, key, fingerprint string) (int, error) {
	var count int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(failureKeyPrefix + configID + ":" + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var mark failureMark
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &mark)
		}); err != nil {
			return err
		}
		if mark.Fingerprint == fingerprint {
			count = mark.Count
		}
		return nil
	})
	return count, err
}

// LearnerRecord returns the audit record for an enrollment, or nil when none
// has been transmitted yet.
func (s *Store) LearnerRecord(configID, enrollmentID string) (*LearnerRecord, error) {
	var rec *LearnerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(learnerKeyPrefix + configID + ":" + enrollmentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec = &LearnerRecord{}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("audit: load learner record %s/%s: %w", configID, enrollmentID, err)
	}
	return rec, nil
}

// PutLearnerRecord stores the record after a successful transmission.
func (s *Store) PutLearnerRecord(configID string, rec LearnerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(learnerKeyPrefix+configID+":"+rec.EnrollmentID), data)
	})
}

// SurrogateID returns the stable surrogate identifier for a content key,
// assigning a new one from a per-configuration counter on first use. The same
// key always maps to the same surrogate on every subsequent export.
func (s *Store) SurrogateID(configID, key string) (string, error) {
	sk := []byte(surrogateKeyPrefix + configID + ":" + key)

	var id string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sk)
		if err == nil {
			return item.Value(func(val []byte) error {
				id = string(val)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seqKey := []byte(surrogateSeqPrefix + configID)
		var seq uint64
		if item, err := txn.Get(seqKey); err == nil {
			if err := item.Value(func(val []byte) error {
				_, serr := fmt.Sscanf(string(val), "%d", &seq)
				return serr
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq++
		id = fmt.Sprintf("csx-%d", seq)
		if err := txn.Set(seqKey, []byte(fmt.Sprintf("%d", seq))); err != nil {
			return err
		}
		return txn.Set(sk, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("audit: surrogate id for %s/%s: %w", configID, key, err)
	}
	return id, nil
}

// CatalogMark returns the freshness mark for a (configuration, catalog) pair,
// or nil when the catalog has never been fully transmitted.
func (s *Store) CatalogMark(configID, catalogID string) (*CatalogMark, error) {
	var mark *CatalogMark
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(catalogMarkPrefix + configID + ":" + catalogID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mark = &CatalogMark{}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, mark)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("audit: catalog mark %s/%s: %w", configID, catalogID, err)
	}
	return mark, nil
}

// PutCatalogMark records a successful full transmission of a catalog.
func (s *Store) PutCatalogMark(configID string, mark CatalogMark) error {
	data, err := json.Marshal(mark)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(catalogMarkPrefix+configID+":"+mark.CatalogID), data)
	})
}

// CachedCatalogItems returns the desired-state set cached at the last fetch of
// a catalog, replayed by the exporter when the update-only check hits.
func (s *Store) CachedCatalogItems(configID, catalogID string) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(catalogSetPrefix + configID + ":" + catalogID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return DecompressSnapshot(val, &items)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("audit: cached catalog %s/%s: %w", configID, catalogID, err)
	}
	return items, nil
}

// PutCachedCatalogItems stores the fetched desired-state set for replay.
func (s *Store) PutCachedCatalogItems(configID, catalogID string, items []domain.ContentItem) error {
	data, err := CompressSnapshot(items)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(catalogSetPrefix+configID+":"+catalogID), data)
	})
}
