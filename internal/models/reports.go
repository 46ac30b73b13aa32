package models

import (
	"encoding/json"
	"time"
)

// Report sources in a merged listing.
const (
	SourceLocal = "local"
	SourceOSS   = "oss"
)

// QCReport is a quality-control report for a casting bed. The stressing
// blocks are carried opaquely.
type QCReport struct {
	ReportID         string          `json:"reportId"`
	BedID            string          `json:"bedId"`
	BedName          string          `json:"bedName"`
	ProjectID        string          `json:"projectId"`
	ProjectName      string          `json:"projectName"`
	ProjectNumber    string          `json:"projectNumber,omitempty"`
	ReportDate       time.Time       `json:"reportDate"`
	CalculatedBy     string          `json:"calculatedBy"`
	ReviewedBy       string          `json:"reviewedBy,omitempty"`
	Location         string          `json:"location,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedDate      time.Time       `json:"createdDate"`
	ModifiedDate     *time.Time      `json:"modifiedDate,omitempty"`
	Status           string          `json:"status"`
	OSSBucketKey     string          `json:"ossBucketKey,omitempty"`
	OSSObjectKey     string          `json:"ossObjectKey,omitempty"`
	SelfStressing    json.RawMessage `json:"selfStressing,omitempty"`
	NonSelfStressing json.RawMessage `json:"nonSelfStressing,omitempty"`
}

// CalculationResult is a saved engineering calculation.
type CalculationResult struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"projectId"`
	Type            string         `json:"type"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Results         map[string]any `json:"results,omitempty"`
	CalculationDate time.Time      `json:"calculationDate"`
	Notes           string         `json:"notes,omitempty"`
	OSSBucketKey    string         `json:"ossBucketKey,omitempty"`
	OSSObjectKey    string         `json:"ossObjectKey,omitempty"`
}

// ObjectMeta describes one stored object.
type ObjectMeta struct {
	BucketKey    string    `json:"bucketKey"`
	ObjectKey    string    `json:"objectKey"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// ReportSummary is one row of a merged report listing.
type ReportSummary struct {
	ReportID     string    `json:"reportId"`
	ProjectID    string    `json:"projectId"`
	BedName      string    `json:"bedName,omitempty"`
	ReportDate   time.Time `json:"reportDate,omitzero"`
	Status       string    `json:"status,omitempty"`
	BucketKey    string    `json:"bucketKey"`
	ObjectKey    string    `json:"objectKey"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Source       string    `json:"source"`
	Synced       bool      `json:"synced"`
}

// Save statuses.
const (
	SaveSynced        = "synced"
	SaveLocalFallback = "local_fallback"
	SaveFailed        = "failed"
)

// SaveResult reports the outcome of a save.
type SaveResult struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	ReportID  string `json:"reportId,omitempty"`
	BucketKey string `json:"bucketKey,omitempty"`
	ObjectKey string `json:"objectKey,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Synced reports whether the remote copy was written.
func (r SaveResult) Synced() bool {
	return r.Status == SaveSynced
}
