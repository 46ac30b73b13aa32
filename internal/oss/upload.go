package oss

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	apperrors "github.com/metromont/castlink/internal/errors"
)

// uploadParts is the number of parts requested per object. Objects are
// always sent as a single part.
const uploadParts = 1

// signedUpload is the phase 1 response.
type signedUpload struct {
	URL         string
	UploadKey   string
	CompleteURL string
}

type completedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type completeUploadRequest struct {
	UploadKey string          `json:"uploadKey,omitempty"`
	Parts     []completedPart `json:"parts"`
}

// PutObject stores data at bucketKey/objectKey using the signed upload
// protocol: request a signed URL, PUT the bytes to it, then finalize.
// The object only becomes visible once finalize succeeds. No phase is
// retried; a failure returns StorageError{Kind: upload_phase_failed}
// naming the phase and wrapping the cause.
func (c *Client) PutObject(ctx context.Context, token, bucketKey, objectKey string, data []byte) error {
	if !ValidBucketKey(bucketKey) {
		return invalidBucket(bucketKey)
	}

	if objectKey == "" {
		return &apperrors.StorageError{Kind: apperrors.StorageRejected, Detail: "empty object key"}
	}

	if data == nil {
		data = []byte{}
	}

	c.phase(bucketKey, objectKey, apperrors.PhaseRequesting)

	su, err := c.requestUpload(ctx, token, bucketKey, objectKey)
	if err != nil {
		return c.phaseFailed(bucketKey, objectKey, apperrors.PhaseRequesting, err)
	}

	c.phase(bucketKey, objectKey, apperrors.PhaseUploading)

	etag, err := c.transfer(ctx, su.URL, data)
	if err != nil {
		return c.phaseFailed(bucketKey, objectKey, apperrors.PhaseUploading, err)
	}

	c.phase(bucketKey, objectKey, apperrors.PhaseFinalizing)

	if err := c.finalize(ctx, token, bucketKey, objectKey, su, etag); err != nil {
		return c.phaseFailed(bucketKey, objectKey, apperrors.PhaseFinalizing, err)
	}

	c.phase(bucketKey, objectKey, apperrors.PhaseDone)

	return nil
}

func (c *Client) phase(bucketKey, objectKey string, p apperrors.UploadPhase) {
	c.logger.Debug("upload phase",
		slog.String("bucket", bucketKey),
		slog.String("object", objectKey),
		slog.String("phase", string(p)),
	)

	if c.onPhase != nil {
		c.onPhase(bucketKey, objectKey, p)
	}
}

func (c *Client) phaseFailed(bucketKey, objectKey string, p apperrors.UploadPhase, cause error) error {
	c.logger.Warn("upload phase failed",
		slog.String("bucket", bucketKey),
		slog.String("object", objectKey),
		slog.String("phase", string(p)),
		slog.String("error", cause.Error()),
	)

	return &apperrors.StorageError{
		Kind:  apperrors.StorageUploadPhaseFailed,
		Phase: p,
		Err:   cause,
	}
}

func (c *Client) requestUpload(ctx context.Context, token, bucketKey, objectKey string) (signedUpload, error) {
	endpoint := fmt.Sprintf("%s/signeds3upload?parts=%d", c.objectURL(bucketKey, objectKey), uploadParts)

	resp, err := c.do(ctx, http.MethodGet, endpoint, token, nil, "", maxAPIResponseBytes)
	if err != nil {
		return signedUpload{}, err
	}

	if !resp.ok() {
		return signedUpload{}, resp.statusError()
	}

	if !gjson.ValidBytes(resp.body) {
		return signedUpload{}, malformed("signed upload response is not valid JSON")
	}

	parsed := gjson.ParseBytes(resp.body)

	urls := parsed.Get("urls")
	if !urls.IsArray() || len(urls.Array()) < uploadParts {
		return signedUpload{}, malformed("signed upload response has no urls")
	}

	first := urls.Array()[0]
	if first.Type != gjson.String || first.String() == "" {
		return signedUpload{}, malformed("signed upload url is not a string")
	}

	su := signedUpload{URL: first.String()}

	if v := parsed.Get("uploadKey"); v.Exists() {
		if v.Type != gjson.String {
			return signedUpload{}, malformed("uploadKey is not a string")
		}

		su.UploadKey = v.String()
	}

	if v := parsed.Get("completeUploadUrl"); v.Exists() && v.Type == gjson.String {
		su.CompleteURL = v.String()
	}

	if su.UploadKey == "" && su.CompleteURL == "" {
		return signedUpload{}, malformed("signed upload response has neither uploadKey nor completeUploadUrl")
	}

	return su, nil
}

// transfer PUTs data to the signed URL without platform credentials and
// returns the ETag exactly as sent by the blob store.
func (c *Client) transfer(ctx context.Context, signedURL string, data []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, signedURL, "", data, "application/octet-stream", maxAPIResponseBytes)
	if err != nil {
		return "", err
	}

	if !resp.ok() {
		return "", resp.statusError()
	}

	etag := resp.header.Get("ETag")
	if etag == "" {
		return "", malformed("blob store response has no ETag")
	}

	return etag, nil
}

func (c *Client) finalize(ctx context.Context, token, bucketKey, objectKey string, su signedUpload, etag string) error {
	payload, err := json.Marshal(completeUploadRequest{
		UploadKey: su.UploadKey,
		Parts:     []completedPart{{PartNumber: 1, ETag: etag}},
	})
	if err != nil {
		return fmt.Errorf("marshalling completion request: %w", err)
	}

	endpoint := c.objectURL(bucketKey, objectKey) + "/signeds3upload"
	bearer := token

	if su.CompleteURL != "" {
		endpoint = su.CompleteURL
		// A completion URL on another host is pre-signed; the platform
		// token stays with the platform.
		if !c.sameHost(su.CompleteURL) {
			bearer = ""
		}
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, bearer, payload, "application/json", maxAPIResponseBytes)
	if err != nil {
		return err
	}

	if !resp.ok() {
		return resp.statusError()
	}

	return nil
}

func (c *Client) sameHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}

	return u.Host == base.Host
}
