package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/codeminion/overlord/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketActive      = []byte("active_workers")
	bucketHistory     = []byte("work_history")
	bucketArchived    = []byte("archived_ids")
	bucketEvaluations = []byte("evaluations")
	bucketMeta        = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

// schemaVersion is bumped on any incompatible layout change.
const schemaVersion = "1"

// BoltStore implements Store using bbolt
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the state file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketActive,
			bucketHistory,
			bucketArchived,
			bucketEvaluations,
			bucketMeta,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchemaVersion); v != nil {
			if string(v) != schemaVersion {
				return fmt.Errorf("state db schema version %s, want %s", v, schemaVersion)
			}
			return nil
		}
		return meta.Put(keySchemaVersion, []byte(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// AddWorker inserts an active worker. Fails with ErrDuplicate when an
// active worker already exists for the same (repo, issue).
func (s *BoltStore) AddWorker(w *types.WorkerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActive)

		var dup bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.WorkerRecord
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Repo == w.Repo && existing.IssueNumber == w.IssueNumber {
				dup = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: %s", ErrDuplicate, w.IssueRef())
		}

		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put([]byte(w.ID), data)
	})
}

// UpdateWorker applies a partial update to an active worker. Heartbeats
// never regress: a stale timestamp in the patch keeps the stored value.
func (s *BoltStore) UpdateWorker(id string, patch WorkerPatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActive)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		var w types.WorkerRecord
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}

		if patch.Status != nil {
			w.Status = *patch.Status
		}
		if patch.LastHeartbeat != nil && patch.LastHeartbeat.After(w.LastHeartbeat) {
			w.LastHeartbeat = *patch.LastHeartbeat
		}
		if patch.PRNumber != nil {
			w.PRNumber = *patch.PRNumber
		}
		if patch.ErrorMessage != nil {
			w.ErrorMessage = *patch.ErrorMessage
		}

		updated, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// GetWorker retrieves an active worker by id
func (s *BoltStore) GetWorker(id string) (*types.WorkerRecord, error) {
	var w types.WorkerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketActive).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetActive returns all active workers
func (s *BoltStore) GetActive() ([]*types.WorkerRecord, error) {
	var workers []*types.WorkerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActive).ForEach(func(k, v []byte) error {
			var w types.WorkerRecord
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].StartedAt.Before(workers[j].StartedAt)
	})
	return workers, nil
}

// GetByIssue returns the active worker for (repo, number), if any
func (s *BoltStore) GetByIssue(repo string, number int) (*types.WorkerRecord, error) {
	var found *types.WorkerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActive).ForEach(func(k, v []byte) error {
			var w types.WorkerRecord
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Repo == repo && w.IssueNumber == number {
				found = &w
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotFound, repo, number)
	}
	return found, nil
}

// RecordCompletion archives an active worker under a terminal status. The
// history insert and active delete happen in one transaction.
func (s *BoltStore) RecordCompletion(id string, status types.WorkerStatus, prNumber int, errMsg string) (*types.HistoryEntry, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("status %q is not terminal", status)
	}

	var entry *types.HistoryEntry
	err := s.db.Update(func(tx *bolt.Tx) error {
		active := tx.Bucket(bucketActive)
		archived := tx.Bucket(bucketArchived)

		data := active.Get([]byte(id))
		if data == nil {
			if archived.Get([]byte(id)) != nil {
				return fmt.Errorf("%w: %s", ErrAlreadyArchived, id)
			}
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		var w types.WorkerRecord
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}

		now := time.Now().UTC()
		w.Status = status
		if prNumber > 0 {
			w.PRNumber = prNumber
		}
		if errMsg != "" {
			w.ErrorMessage = errMsg
		}

		entry = &types.HistoryEntry{
			WorkerRecord:    w,
			CompletedAt:     now,
			DurationSeconds: now.Sub(w.StartedAt).Seconds(),
		}

		history := tx.Bucket(bucketHistory)
		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		// Zero-padded sequence keys keep cursor order chronological
		key := []byte(fmt.Sprintf("%016d", seq))
		if err := history.Put(key, raw); err != nil {
			return err
		}
		if err := archived.Put([]byte(id), key); err != nil {
			return err
		}
		return active.Delete([]byte(id))
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns archived entries, newest first
func (s *BoltStore) History(filter HistoryFilter) ([]*types.HistoryEntry, error) {
	var entries []*types.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e types.HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if filter.Repo != "" && e.Repo != filter.Repo {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			entries = append(entries, &e)
			if filter.Limit > 0 && len(entries) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DistinctRepos returns every repo seen in active or history rows
func (s *BoltStore) DistinctRepos() ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		collect := func(k, v []byte) error {
			var w types.WorkerRecord
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			seen[w.Repo] = struct{}{}
			return nil
		}
		if err := tx.Bucket(bucketActive).ForEach(collect); err != nil {
			return err
		}
		return tx.Bucket(bucketHistory).ForEach(collect)
	})
	if err != nil {
		return nil, err
	}

	repos := make([]string, 0, len(seen))
	for r := range seen {
		repos = append(repos, r)
	}
	sort.Strings(repos)
	return repos, nil
}

// SaveEvaluation appends an evaluation record
func (s *BoltStore) SaveEvaluation(e *types.Evaluation) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvaluations)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%s#%d/%016d", e.Repo, e.PRNumber, seq))
		return b.Put(key, data)
	})
}

// Evaluations returns the stored evaluations for a PR, oldest first
func (s *BoltStore) Evaluations(repo string, pr int) ([]*types.Evaluation, error) {
	prefix := []byte(fmt.Sprintf("%s#%d/", repo, pr))
	var evals []*types.Evaluation
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvaluations).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e types.Evaluation
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			evals = append(evals, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evals, nil
}
