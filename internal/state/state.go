// Package state is the local offline cache: a bbolt database holding the
// last saved copy of every report and calculation, a per-project report
// index and the registry of buckets each project has used. Everything is
// scoped by project, so two projects may reuse a report ID.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.castlink/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

func projectReportsBucket(projectID string) []byte {
	return []byte("project:" + projectID + ":reports")
}

func projectCalculationsBucket(projectID string) []byte {
	return []byte("project:" + projectID + ":calculations")
}

func projectIndexBucket(projectID string) []byte {
	return []byte("project:" + projectID + ":index")
}

func projectBucketsBucket(projectID string) []byte {
	return []byte("project:" + projectID + ":buckets")
}

// CachedReport is the local copy of a saved report. Report holds the
// serialized report exactly as it was sent to remote storage. Revision
// identifies one save of the report.
type CachedReport struct {
	ReportID   string          `json:"reportId"`
	ProjectID  string          `json:"projectId"`
	BedName    string          `json:"bedName,omitempty"`
	ReportDate time.Time       `json:"reportDate"`
	Status     string          `json:"status,omitempty"`
	BucketKey  string          `json:"bucketKey"`
	ObjectKey  string          `json:"objectKey"`
	Size       int64           `json:"size"`
	Synced     bool            `json:"synced"`
	SavedAt    time.Time       `json:"savedAt"`
	Revision   string          `json:"revision,omitempty"`
	Report     json.RawMessage `json:"report"`
}

// IndexEntry is one row of a project's report index. It mirrors the
// summary fields of CachedReport without the report body.
type IndexEntry struct {
	ReportID   string    `json:"reportId"`
	BedName    string    `json:"bedName,omitempty"`
	ReportDate time.Time `json:"reportDate"`
	Status     string    `json:"status,omitempty"`
	BucketKey  string    `json:"bucketKey"`
	ObjectKey  string    `json:"objectKey"`
	Size       int64     `json:"size"`
	Synced     bool      `json:"synced"`
	SavedAt    time.Time `json:"savedAt"`
}

func (r CachedReport) indexEntry() IndexEntry {
	return IndexEntry{
		ReportID:   r.ReportID,
		BedName:    r.BedName,
		ReportDate: r.ReportDate,
		Status:     r.Status,
		BucketKey:  r.BucketKey,
		ObjectKey:  r.ObjectKey,
		Size:       r.Size,
		Synced:     r.Synced,
		SavedAt:    r.SavedAt,
	}
}

// CachedCalculation is the local copy of a saved calculation result.
type CachedCalculation struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"projectId"`
	BucketKey   string          `json:"bucketKey"`
	ObjectKey   string          `json:"objectKey"`
	Synced      bool            `json:"synced"`
	SavedAt     time.Time       `json:"savedAt"`
	Revision    string          `json:"revision,omitempty"`
	Calculation json.RawMessage `json:"calculation"`
}

// BucketRecord is a bucket a project has written to.
type BucketRecord struct {
	BucketKey string    `json:"bucketKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// parent directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveReport writes the report entry and its project index row in one
// transaction, replacing any previous copy.
func (s *State) SaveReport(r CachedReport) error {
	if r.ReportID == "" || r.ProjectID == "" {
		return fmt.Errorf("report id and project id are required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putReport(tx, r)
	})
}

func putReport(tx *bolt.Tx, r CachedReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	reports, err := tx.CreateBucketIfNotExists(projectReportsBucket(r.ProjectID))
	if err != nil {
		return err
	}

	if err := reports.Put([]byte(r.ReportID), data); err != nil {
		return err
	}

	idx, err := tx.CreateBucketIfNotExists(projectIndexBucket(r.ProjectID))
	if err != nil {
		return err
	}

	entry, err := json.Marshal(r.indexEntry())
	if err != nil {
		return err
	}

	return idx.Put([]byte(r.ReportID), entry)
}

// MarkReportSynced flags the cached report as written remotely, but only
// while the stored copy is still the given revision. It reports whether
// the flag was set; a newer local save is left untouched.
func (s *State) MarkReportSynced(projectID, reportID, revision string) (bool, error) {
	marked := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectReportsBucket(projectID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(reportID))
		if v == nil {
			return nil
		}

		var r CachedReport
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}

		if r.Revision != revision {
			return nil
		}

		r.Synced = true
		marked = true

		return putReport(tx, r)
	})

	return marked, err
}

// GetReport returns the project's cached report, or nil if not found.
func (s *State) GetReport(projectID, reportID string) (*CachedReport, error) {
	var r *CachedReport

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectReportsBucket(projectID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(reportID))
		if v == nil {
			return nil
		}

		r = &CachedReport{}

		return json.Unmarshal(v, r)
	})

	return r, err
}

// ProjectIndex returns the index rows for a project, newest save first.
func (s *State) ProjectIndex(projectID string) ([]IndexEntry, error) {
	var entries []IndexEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectIndexBucket(projectID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var e IndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			entries = append(entries, e)

			return nil
		})
	})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SavedAt.After(entries[j].SavedAt)
	})

	return entries, err
}

// PendingReports returns the project's cached reports that have not
// reached remote storage, oldest save first.
func (s *State) PendingReports(projectID string) ([]CachedReport, error) {
	var pending []CachedReport

	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(projectIndexBucket(projectID))
		if idx == nil {
			return nil
		}

		reports := tx.Bucket(projectReportsBucket(projectID))
		if reports == nil {
			return nil
		}

		return idx.ForEach(func(k, v []byte) error {
			var e IndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}

			if e.Synced {
				return nil
			}

			raw := reports.Get(k)
			if raw == nil {
				return nil
			}

			var r CachedReport
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}

			pending = append(pending, r)

			return nil
		})
	})

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].SavedAt.Before(pending[j].SavedAt)
	})

	return pending, err
}

// RecordBucket registers bucketKey as used by the project. The first
// recorded creation time is kept.
func (s *State) RecordBucket(projectID, bucketKey string, createdAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(projectBucketsBucket(projectID))
		if err != nil {
			return err
		}

		if b.Get([]byte(bucketKey)) != nil {
			return nil
		}

		data, err := json.Marshal(BucketRecord{BucketKey: bucketKey, CreatedAt: createdAt})
		if err != nil {
			return err
		}

		return b.Put([]byte(bucketKey), data)
	})
}

// ProjectBuckets returns every bucket recorded for the project, oldest
// first.
func (s *State) ProjectBuckets(projectID string) ([]BucketRecord, error) {
	var records []BucketRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectBucketsBucket(projectID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var r BucketRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			records = append(records, r)

			return nil
		})
	})

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, err
}

// SaveCalculation persists a calculation result, replacing any previous
// copy.
func (s *State) SaveCalculation(c CachedCalculation) error {
	if c.ID == "" || c.ProjectID == "" {
		return fmt.Errorf("calculation id and project id are required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putCalculation(tx, c)
	})
}

func putCalculation(tx *bolt.Tx, c CachedCalculation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	b, err := tx.CreateBucketIfNotExists(projectCalculationsBucket(c.ProjectID))
	if err != nil {
		return err
	}

	return b.Put([]byte(c.ID), data)
}

// MarkCalculationSynced is MarkReportSynced for calculations.
func (s *State) MarkCalculationSynced(projectID, id, revision string) (bool, error) {
	marked := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectCalculationsBucket(projectID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		var c CachedCalculation
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}

		if c.Revision != revision {
			return nil
		}

		c.Synced = true
		marked = true

		return putCalculation(tx, c)
	})

	return marked, err
}
