package promotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentineltrust/controlplane/internal/resilience"
)

// AllocationRequest is sent to the external Resource Allocator.
type AllocationRequest struct {
	ArtifactRef string                 `json:"artifact_ref"`
	TraceID     string                 `json:"trace_id"`
	Evaluation  map[string]interface{} `json:"evaluation"`
}

// AllocationResult is the Resource Allocator's response.
type AllocationResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// AllocatorClient reserves capacity for an accepted promotion.
type AllocatorClient interface {
	Allocate(ctx context.Context, req AllocationRequest) (AllocationResult, error)
}

// HTTPAllocatorClient calls an external Resource Allocator service over
// HTTP, wrapped in a circuit breaker so a degraded allocator fails fast
// instead of blocking every promotion.
type HTTPAllocatorClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *resilience.CircuitBreaker
}

func NewHTTPAllocatorClient(baseURL string, breaker *resilience.CircuitBreaker) *HTTPAllocatorClient {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig())
	}
	return &HTTPAllocatorClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		breaker:    breaker,
	}
}

func (c *HTTPAllocatorClient) Allocate(ctx context.Context, req AllocationRequest) (AllocationResult, error) {
	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.doAllocate(ctx, req)
	})
	if err != nil {
		return AllocationResult{}, err
	}
	return result.(AllocationResult), nil
}

func (c *HTTPAllocatorClient) doAllocate(ctx context.Context, req AllocationRequest) (AllocationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("marshal allocation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/allocate", bytes.NewReader(body))
	if err != nil {
		return AllocationResult{}, fmt.Errorf("build allocation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("allocator request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("read allocator response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return AllocationResult{}, fmt.Errorf("allocator returned status %d", resp.StatusCode)
	}

	var out AllocationResult
	if err := json.Unmarshal(respBody, &out); err != nil {
		return AllocationResult{}, fmt.Errorf("decode allocator response: %w", err)
	}
	return out, nil
}
