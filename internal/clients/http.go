package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"circulus/internal/result"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type response struct {
	status      int
	contentType string
	body        []byte
}

// baseClient performs JSON calls against one collaborator. Transport errors
// and 5xx responses count against the circuit breaker; 4xx responses do not.
type baseClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func newBaseClient(name, baseURL string, httpClient *http.Client) baseClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return baseClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c baseClient) do(ctx context.Context, method, path string, query url.Values, body any) (*response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		r := &response{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: payload}
		if r.status >= http.StatusInternalServerError {
			return nil, r.upstream()
		}
		return r, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &result.UpstreamFailure{
			StatusCode:  http.StatusServiceUnavailable,
			ContentType: "text/plain",
			Body:        fmt.Sprintf("%s is unavailable: %v", c.breaker.Name(), err),
		}
	case err != nil:
		var upstream *result.UpstreamFailure
		if errors.As(err, &upstream) {
			return nil, upstream
		}
		return nil, result.ServerFrom(fmt.Errorf("failed to call %s %s: %w", method, path, err))
	}
	return out.(*response), nil
}

func (r *response) upstream() *result.UpstreamFailure {
	return &result.UpstreamFailure{StatusCode: r.status, ContentType: r.contentType, Body: string(r.body)}
}

// getJSON decodes a 200 response into out. A 404 becomes a NotFoundFailure for kind/id.
func (c baseClient) getJSON(ctx context.Context, path string, query url.Values, kind, id string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return result.NotFound(kind, id)
	default:
		return resp.upstream()
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return result.ServerFrom(fmt.Errorf("failed to decode %s: %w", kind, err))
	}
	return nil
}

func (c baseClient) putJSON(ctx context.Context, path string, body any) error {
	resp, err := c.do(ctx, http.MethodPut, path, nil, body)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusNoContent {
		return resp.upstream()
	}
	return nil
}
