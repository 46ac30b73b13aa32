// Package osstest provides an in-process fake of the platform's token
// endpoint and OSS v2 API for tests. Uploads follow the real protocol:
// bytes PUT to a signed URL stay invisible until the upload is finalized.
package osstest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// Op names a fake endpoint for fault injection and call counting.
type Op string

const (
	OpToken         Op = "token"
	OpBucketDetails Op = "bucket_details"
	OpCreateBucket  Op = "create_bucket"
	OpRequestUpload Op = "request_upload"
	OpPutBlob       Op = "put_blob"
	OpFinalize      Op = "finalize"
	OpList          Op = "list"
	OpDownloadURL   Op = "download_url"
	OpDownload      Op = "download"
	OpDelete        Op = "delete"
)

// Object is a finalized object held by the fake.
type Object struct {
	Data         []byte
	LastModified time.Time
}

type pendingUpload struct {
	bucket string
	key    string
	data   []byte
	etag   string
	put    bool
}

// Server is a fake platform. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	// CompleteURL makes signed upload responses carry a completeUploadUrl
	// instead of relying on the bucket/object finalize endpoint.
	CompleteURL bool

	// OmitETag drops the ETag header from blob PUT responses.
	OmitETag bool

	// PageSize limits listing pages and emits a next link when exceeded.
	// Zero means unlimited.
	PageSize int

	// BeforeFinalize, when set, runs before a finalize commits.
	BeforeFinalize func(bucket, key string)

	mu      sync.Mutex
	buckets map[string]map[string]Object
	pending map[string]*pendingUpload
	faults  map[Op][]int
	calls   map[Op]int
	offline bool
	now     func() time.Time

	seq atomic.Int64
}

// New starts a fake platform. Callers must Close it.
func New() *Server {
	s := &Server{
		buckets: make(map[string]map[string]Object),
		pending: make(map[string]*pendingUpload),
		faults:  make(map[Op][]int),
		calls:   make(map[Op]int),
		now:     func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.With(s.requireOnline).Post("/authentication/v2/token", s.handleToken)

	r.Route("/oss/v2", func(r chi.Router) {
		r.Use(s.requireOnline, s.requireBearer)
		r.Post("/buckets", s.handleCreateBucket)
		r.Get("/buckets/{bucket}/details", s.handleBucketDetails)
		r.Get("/buckets/{bucket}/objects", s.handleList)
		r.Get("/buckets/{bucket}/objects/{key}/signeds3upload", s.handleRequestUpload)
		r.Post("/buckets/{bucket}/objects/{key}/signeds3upload", s.handleFinalize)
		r.Get("/buckets/{bucket}/objects/{key}/signeds3download", s.handleDownloadURL)
		r.Delete("/buckets/{bucket}/objects/{key}", s.handleDelete)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireOnline)
		r.Put("/blob/{uploadKey}", s.handlePutBlob)
		r.Post("/complete/{uploadKey}", s.handleFinalizeByKey)
		r.Get("/download/{bucket}/{key}", s.handleDownload)
	})

	s.Server = httptest.NewServer(r)

	return s
}

// TokenURL is the fake token endpoint.
func (s *Server) TokenURL() string { return s.URL + "/authentication/v2/token" }

// OSSURL is the fake OSS v2 base URL.
func (s *Server) OSSURL() string { return s.URL + "/oss/v2" }

// SetOffline makes every request, token endpoint included, fail at the
// transport level until called again with false.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Fail queues HTTP statuses returned by the next calls to op, one per
// call, before normal handling resumes.
func (s *Server) Fail(op Op, statuses ...int) {
	s.mu.Lock()
	s.faults[op] = append(s.faults[op], statuses...)
	s.mu.Unlock()
}

// Calls returns how many requests op has received.
func (s *Server) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// CreateBucket registers a bucket directly.
func (s *Server) CreateBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]Object)
	}
}

// PutObject stores a finalized object directly, creating the bucket.
func (s *Server) PutObject(bucket, key string, data []byte, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]Object)
	}

	s.buckets[bucket][key] = Object{Data: append([]byte(nil), data...), LastModified: modified}
}

// Object returns a finalized object.
func (s *Server) Object(bucket, key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.buckets[bucket][key]

	return obj, ok
}

// HasBucket reports whether bucket exists.
func (s *Server) HasBucket(bucket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.buckets[bucket]

	return ok
}

// ObjectKeys returns the finalized keys in bucket, sorted.
func (s *Server) ObjectKeys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// record counts a call and pops a queued fault for op, if any.
func (s *Server) record(op Op) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++

	q := s.faults[op]
	if len(q) == 0 {
		return 0, false
	}

	s.faults[op] = q[1:]

	return q[0], true
}

// fault records the call and writes an injected failure. It reports
// whether the caller should stop.
func (s *Server) fault(w http.ResponseWriter, op Op) bool {
	status, ok := s.record(op)
	if !ok {
		return false
	}

	writeJSON(w, status, map[string]string{"reason": fmt.Sprintf("injected %s failure", op)})

	return true
}

func (s *Server) requireOnline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		offline := s.offline
		s.mu.Unlock()

		if offline {
			panic(http.ErrAbortHandler)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": "missing bearer token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}

	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- Token endpoint ---

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpToken) {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if r.PostForm.Get("client_id") == "" || r.PostForm.Get("client_secret") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	n := s.seq.Add(1)

	switch r.PostForm.Get("grant_type") {
	case "client_credentials":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": fmt.Sprintf("service-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3599,
		})
	case "authorization_code", "refresh_token":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  fmt.Sprintf("user-%d", n),
			"refresh_token": fmt.Sprintf("refresh-%d", n),
			"token_type":    "Bearer",
			"expires_in":    3599,
			"scope":         "data:read data:write data:create bucket:read",
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

// --- Buckets ---

func (s *Server) handleBucketDetails(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpBucketDetails) {
		return
	}

	bucket := param(r, "bucket")
	if !s.HasBucket(bucket) {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bucketKey": bucket, "policyKey": "persistent"})
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpCreateBucket) {
		return
	}

	var req struct {
		BucketKey string `json:"bucketKey"`
		PolicyKey string `json:"policyKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BucketKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid bucket request"})
		return
	}

	s.mu.Lock()
	_, exists := s.buckets[req.BucketKey]

	if !exists {
		s.buckets[req.BucketKey] = make(map[string]Object)
	}
	s.mu.Unlock()

	if exists {
		writeJSON(w, http.StatusConflict, map[string]string{"reason": "Bucket already exists"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bucketKey": req.BucketKey, "policyKey": req.PolicyKey})
}

// --- Upload ---

func (s *Server) handleRequestUpload(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpRequestUpload) {
		return
	}

	bucket, key := param(r, "bucket"), param(r, "key")
	if !s.HasBucket(bucket) {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}

	if r.URL.Query().Get("parts") != "1" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "fake supports exactly one part"})
		return
	}

	uploadKey := fmt.Sprintf("upload-%d", s.seq.Add(1))

	s.mu.Lock()
	s.pending[uploadKey] = &pendingUpload{bucket: bucket, key: key}
	s.mu.Unlock()

	resp := map[string]any{
		"uploadKey":     uploadKey,
		"urls":          []string{s.URL + "/blob/" + uploadKey + "?sig=fake"},
		"urlExpiration": s.now().Add(2 * time.Minute).UnixMilli(),
	}
	if s.CompleteURL {
		resp["completeUploadUrl"] = s.URL + "/complete/" + uploadKey
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpPutBlob) {
		return
	}

	if r.Header.Get("Authorization") != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "signed url must not carry credentials"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "read failed"})
		return
	}

	uploadKey := param(r, "uploadKey")
	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	s.mu.Lock()
	p, ok := s.pending[uploadKey]
	if ok {
		p.data = data
		p.etag = etag
		p.put = true
	}
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if !s.OmitETag {
		w.Header().Set("ETag", etag)
	}

	w.WriteHeader(http.StatusOK)
}

type finalizeRequest struct {
	UploadKey string `json:"uploadKey"`
	Parts     []struct {
		PartNumber int    `json:"partNumber"`
		ETag       string `json:"etag"`
	} `json:"parts"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpFinalize) {
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid completion body"})
		return
	}

	s.commit(w, req.UploadKey, param(r, "bucket"), param(r, "key"), req)
}

func (s *Server) handleFinalizeByKey(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpFinalize) {
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid completion body"})
		return
	}

	uploadKey := param(r, "uploadKey")

	s.mu.Lock()
	p, ok := s.pending[uploadKey]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "unknown upload"})
		return
	}

	s.commit(w, uploadKey, p.bucket, p.key, req)
}

func (s *Server) commit(w http.ResponseWriter, uploadKey, bucket, key string, req finalizeRequest) {
	s.mu.Lock()
	p, ok := s.pending[uploadKey]
	s.mu.Unlock()

	switch {
	case !ok || p.bucket != bucket || p.key != key:
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "unknown upload"})
		return
	case !p.put:
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "no parts uploaded"})
		return
	case len(req.Parts) != 1 || req.Parts[0].PartNumber != 1 || req.Parts[0].ETag != p.etag:
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "part etag mismatch"})
		return
	}

	if s.BeforeFinalize != nil {
		s.BeforeFinalize(bucket, key)
	}

	s.mu.Lock()
	delete(s.pending, uploadKey)

	if _, ok := s.buckets[bucket]; !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})

		return
	}

	s.buckets[bucket][key] = Object{Data: p.data, LastModified: s.now()}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"bucketKey": bucket,
		"objectKey": key,
		"size":      len(p.data),
	})
}

// --- Read paths ---

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpList) {
		return
	}

	bucket := param(r, "bucket")

	s.mu.Lock()
	objs, ok := s.buckets[bucket]

	type item struct {
		BucketKey        string `json:"bucketKey"`
		ObjectKey        string `json:"objectKey"`
		Size             int    `json:"size"`
		LastModifiedDate int64  `json:"lastModifiedDate"`
	}

	items := make([]item, 0, len(objs))
	for k, o := range objs {
		items = append(items, item{BucketKey: bucket, ObjectKey: k, Size: len(o.Data), LastModifiedDate: o.LastModified.UnixMilli()})
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ObjectKey < items[j].ObjectKey })

	resp := map[string]any{}
	if s.PageSize > 0 && len(items) > s.PageSize {
		resp["next"] = s.OSSURL() + "/buckets/" + bucket + "/objects?startAt=" + url.QueryEscape(items[s.PageSize].ObjectKey)
		items = items[:s.PageSize]
	}

	resp["items"] = items

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpDownloadURL) {
		return
	}

	bucket, key := param(r, "bucket"), param(r, "key")
	if _, ok := s.Object(bucket, key); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Object not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "complete",
		"url":        s.URL + "/download/" + url.PathEscape(bucket) + "/" + url.PathEscape(key) + "?sig=fake",
		"expiration": s.now().Add(2 * time.Minute).UnixMilli(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpDownload) {
		return
	}

	obj, ok := s.Object(param(r, "bucket"), param(r, "key"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.fault(w, OpDelete) {
		return
	}

	bucket, key := param(r, "bucket"), param(r, "key")

	s.mu.Lock()
	_, ok := s.buckets[bucket][key]
	if ok {
		delete(s.buckets[bucket], key)
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Object not found"})
		return
	}

	w.WriteHeader(http.StatusOK)
}
