// Package chunkedgraph talks to the external chunked-graph service that
// maps supervoxel ids to their current root id, the Go counterpart of the
// source system's cloudvolume_cache-backed root id lookups.
package chunkedgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/segmat/segmat/pkg/errors"
)

var tracer = otel.Tracer("segmat/chunkedgraph")

// Client resolves supervoxel ids to root ids against a chunked-graph
// service instance.
type Client interface {
	GetRoots(ctx context.Context, supervoxelIDs []uint64, timestamp time.Time) ([]uint64, error)
}

// HTTPClient is the default Client implementation, a thin bearer-token HTTP
// wrapper around the chunked-graph service's get_roots endpoint.
type HTTPClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPClient returns a Client for the chunked-graph service at baseURL.
func NewHTTPClient(baseURL, authToken string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type getRootsRequest struct {
	NodeIDs   []uint64 `json:"node_ids"`
	Timestamp float64  `json:"timestamp,omitempty"`
}

// GetRoots resolves supervoxelIDs to their current root ids as of timestamp.
// A zero timestamp asks for the latest root.
func (c *HTTPClient) GetRoots(ctx context.Context, supervoxelIDs []uint64, timestamp time.Time) ([]uint64, error) {
	ctx, span := tracer.Start(ctx, "chunkedgraph.GetRoots", trace.WithAttributes())
	defer span.End()

	if len(supervoxelIDs) == 0 {
		return nil, nil
	}

	reqBody := getRootsRequest{NodeIDs: supervoxelIDs}
	if !timestamp.IsZero() {
		reqBody.Timestamp = float64(timestamp.Unix())
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChunkedGraphError, "encoding get_roots request", err)
	}

	url := fmt.Sprintf("%s/segment/api/v1/get_roots", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChunkedGraphError, "building get_roots request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChunkedGraphError, "calling chunked graph service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeChunkedGraphError, fmt.Sprintf("chunked graph service returned %d", resp.StatusCode))
	}

	var roots []uint64
	if err := json.NewDecoder(resp.Body).Decode(&roots); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeChunkedGraphError, "decoding get_roots response", err)
	}
	return roots, nil
}

// cache holds one Client per chunked-graph service URL, process-wide, since
// a worker resolving chunks across many aligned volumes reuses the same
// small set of chunked-graph deployments.
var (
	cacheMu sync.Mutex
	cache   = map[string]Client{}
)

// Cached returns the Client for serviceURL, constructing and caching a new
// HTTPClient on first use.
func Cached(serviceURL, authToken string, timeout time.Duration) Client {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if c, ok := cache[serviceURL]; ok {
		return c
	}
	c := NewHTTPClient(serviceURL, authToken, timeout)
	cache[serviceURL] = c
	return c
}
