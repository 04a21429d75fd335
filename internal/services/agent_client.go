package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"season-planner/backend/pkg/models"
)

// HTTPAgentClient calls the computation sidecars over HTTP. Each collaborator
// is a "compute a result given a context object" endpoint; internals are
// opaque to the orchestrator.
type HTTPAgentClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAgentClient creates a client for the agent sidecar at baseURL.
func NewHTTPAgentClient(baseURL string) *HTTPAgentClient {
	return &HTTPAgentClient{baseURL: baseURL, client: http.DefaultClient}
}

// Forecast invokes the demand-estimation collaborator.
func (c *HTTPAgentClient) Forecast(ctx context.Context, snapshot ContextSnapshot) (*models.ForecastResult, error) {
	var result models.ForecastResult
	if err := c.post(ctx, AgentForecaster, "/forecast", snapshot, &result); err != nil {
		return nil, err
	}
	if len(result.ForecastByWeek) == 0 {
		return nil, PermanentFailure(AgentForecaster,
			fmt.Errorf("forecast response missing forecast_by_week"))
	}
	return &result, nil
}

// Allocate invokes the store-clustering/allocation collaborator.
func (c *HTTPAgentClient) Allocate(ctx context.Context, snapshot ContextSnapshot) (*models.AllocationResult, error) {
	var result models.AllocationResult
	if err := c.post(ctx, AgentAllocator, "/allocate", snapshot, &result); err != nil {
		return nil, err
	}
	if missingJSON(result.ManufacturingOrder) {
		return nil, PermanentFailure(AgentAllocator,
			fmt.Errorf("allocation response missing manufacturing_order"))
	}
	return &result, nil
}

// missingJSON reports whether a raw contract field is absent or an explicit
// JSON null, which decodes into a non-empty RawMessage.
func missingJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// EvaluateMarkdown invokes the markdown-elasticity collaborator.
func (c *HTTPAgentClient) EvaluateMarkdown(ctx context.Context, snapshot ContextSnapshot) (*models.MarkdownResult, error) {
	var result models.MarkdownResult
	if err := c.post(ctx, AgentPricing, "/markdown", snapshot, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Extract invokes the natural-language parameter extraction collaborator.
func (c *HTTPAgentClient) Extract(ctx context.Context, text string) (*models.ParameterContext, error) {
	var result models.ParameterContext
	payload := map[string]string{"text": text}
	if err := c.post(ctx, AgentExtractor, "/extract", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPAgentClient) post(ctx context.Context, agent, path string, payload, result any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return PermanentFailure(agent, fmt.Errorf("marshal request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return PermanentFailure(agent, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection problems and timeouts are worth retrying.
		return TransientFailure(agent, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return TransientFailure(agent, fmt.Errorf("status code %d", resp.StatusCode))
	default:
		return PermanentFailure(agent, fmt.Errorf("status code %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		// A result that does not match the contract shape is not retryable.
		return PermanentFailure(agent, fmt.Errorf("decode response body: %w", err))
	}
	return nil
}
