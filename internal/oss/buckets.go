package oss

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// bucketPolicy is the retention policy for report buckets.
const bucketPolicy = "persistent"

type createBucketRequest struct {
	BucketKey string `json:"bucketKey"`
	PolicyKey string `json:"policyKey"`
}

// EnsureBucket makes sure bucketKey exists. It checks first and creates
// only on not-found. A concurrent creator winning the race ("already
// exists") counts as success, so concurrent calls for the same key all
// succeed.
func (c *Client) EnsureBucket(ctx context.Context, token, bucketKey string) error {
	if !ValidBucketKey(bucketKey) {
		return invalidBucket(bucketKey)
	}

	if c.bucketKnown(bucketKey) {
		return nil
	}

	resp, err := c.do(ctx, http.MethodGet, c.bucketURL(bucketKey)+"/details", token, nil, "", maxAPIResponseBytes)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", bucketKey, err)
	}

	switch {
	case resp.ok():
		c.rememberBucket(bucketKey)
		return nil
	case resp.status != http.StatusNotFound:
		return fmt.Errorf("checking bucket %s: %w", bucketKey, resp.statusError())
	}

	payload, err := json.Marshal(createBucketRequest{BucketKey: bucketKey, PolicyKey: bucketPolicy})
	if err != nil {
		return fmt.Errorf("marshalling bucket request: %w", err)
	}

	resp, err = c.do(ctx, http.MethodPost, c.baseURL+"/buckets", token, payload, "application/json", maxAPIResponseBytes)
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucketKey, err)
	}

	switch {
	case resp.ok():
		c.logger.Info("bucket created", slog.String("bucket", bucketKey))
	case resp.status == http.StatusConflict || alreadyExists(resp.body):
		c.logger.Debug("bucket created concurrently", slog.String("bucket", bucketKey))
	default:
		return fmt.Errorf("creating bucket %s: %w", bucketKey, resp.statusError())
	}

	c.rememberBucket(bucketKey)

	return nil
}

func alreadyExists(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "already exists")
}

func (c *Client) bucketKnown(bucketKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.known[bucketKey]

	return ok
}

func (c *Client) rememberBucket(bucketKey string) {
	c.mu.Lock()
	c.known[bucketKey] = struct{}{}
	c.mu.Unlock()
}

// ForgetBucket drops bucketKey from the existence cache so the next
// EnsureBucket checks the remote again.
func (c *Client) ForgetBucket(bucketKey string) {
	c.mu.Lock()
	delete(c.known, bucketKey)
	c.mu.Unlock()
}
