package oss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

// ListResult is one page of a bucket listing.
type ListResult struct {
	Items []models.ObjectMeta

	// Next is the continuation link the platform returned, if any. It is
	// not followed: only the first page is ever read.
	Next string
}

// ListObjects returns the first page of objects in bucketKey. A bucket
// that does not exist yields an empty result rather than an error, so a
// project that has never saved anything lists as empty.
func (c *Client) ListObjects(ctx context.Context, token, bucketKey string) (ListResult, error) {
	if !ValidBucketKey(bucketKey) {
		return ListResult{}, invalidBucket(bucketKey)
	}

	resp, err := c.do(ctx, http.MethodGet, c.bucketURL(bucketKey)+"/objects", token, nil, "", maxAPIResponseBytes)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing bucket %s: %w", bucketKey, err)
	}

	if resp.status == http.StatusNotFound {
		return ListResult{}, nil
	}

	if !resp.ok() {
		return ListResult{}, fmt.Errorf("listing bucket %s: %w", bucketKey, resp.statusError())
	}

	res, err := parseListing(bucketKey, resp.body)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing bucket %s: %w", bucketKey, err)
	}

	if res.Next != "" {
		c.logger.Debug("listing truncated to first page",
			slog.String("bucket", bucketKey),
			slog.Int("items", len(res.Items)),
		)
	}

	return res, nil
}

func parseListing(bucketKey string, body []byte) (ListResult, error) {
	if !gjson.ValidBytes(body) {
		return ListResult{}, malformed("listing is not valid JSON")
	}

	parsed := gjson.ParseBytes(body)

	items := parsed.Get("items")
	if !items.IsArray() {
		return ListResult{}, malformed("listing has no items array")
	}

	var res ListResult

	for i, it := range items.Array() {
		key := it.Get("objectKey")
		if key.Type != gjson.String || key.String() == "" {
			return ListResult{}, malformed(fmt.Sprintf("item %d has no objectKey", i))
		}

		meta := models.ObjectMeta{BucketKey: bucketKey, ObjectKey: key.String()}

		if size := it.Get("size"); size.Exists() {
			if size.Type != gjson.Number {
				return ListResult{}, malformed(fmt.Sprintf("item %d size is not a number", i))
			}

			meta.Size = size.Int()
		}

		if lm := it.Get("lastModifiedDate"); lm.Exists() {
			if lm.Type != gjson.Number {
				return ListResult{}, malformed(fmt.Sprintf("item %d lastModifiedDate is not a number", i))
			}

			meta.LastModified = time.UnixMilli(lm.Int()).UTC()
		}

		res.Items = append(res.Items, meta)
	}

	if next := parsed.Get("next"); next.Type == gjson.String {
		res.Next = next.String()
	}

	return res, nil
}

// GetObject downloads bucketKey/objectKey through a signed download URL.
// Reads are capped at the configured maximum download size.
func (c *Client) GetObject(ctx context.Context, token, bucketKey, objectKey string) ([]byte, error) {
	if !ValidBucketKey(bucketKey) {
		return nil, invalidBucket(bucketKey)
	}

	resp, err := c.do(ctx, http.MethodGet, c.objectURL(bucketKey, objectKey)+"/signeds3download", token, nil, "", maxAPIResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("requesting download url for %s/%s: %w", bucketKey, objectKey, err)
	}

	if !resp.ok() {
		return nil, fmt.Errorf("requesting download url for %s/%s: %w", bucketKey, objectKey, resp.statusError())
	}

	if !gjson.ValidBytes(resp.body) {
		return nil, malformed("signed download response is not valid JSON")
	}

	signed := gjson.GetBytes(resp.body, "url")
	if signed.Type != gjson.String || signed.String() == "" {
		return nil, malformed("signed download response has no url")
	}

	resp, err = c.do(ctx, http.MethodGet, signed.String(), "", nil, "", c.maxDownload+1)
	if err != nil {
		return nil, fmt.Errorf("downloading %s/%s: %w", bucketKey, objectKey, err)
	}

	if !resp.ok() {
		return nil, fmt.Errorf("downloading %s/%s: %w", bucketKey, objectKey, resp.statusError())
	}

	if int64(len(resp.body)) > c.maxDownload {
		return nil, &apperrors.StorageError{
			Kind:   apperrors.StorageRejected,
			Detail: fmt.Sprintf("object exceeds download limit of %d bytes", c.maxDownload),
		}
	}

	return resp.body, nil
}

// DeleteObject removes bucketKey/objectKey. Deleting an object that is
// already gone succeeds.
func (c *Client) DeleteObject(ctx context.Context, token, bucketKey, objectKey string) error {
	if !ValidBucketKey(bucketKey) {
		return invalidBucket(bucketKey)
	}

	resp, err := c.do(ctx, http.MethodDelete, c.objectURL(bucketKey, objectKey), token, nil, "", maxAPIResponseBytes)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", bucketKey, objectKey, err)
	}

	if resp.ok() || resp.status == http.StatusNotFound {
		return nil
	}

	return fmt.Errorf("deleting %s/%s: %w", bucketKey, objectKey, resp.statusError())
}
