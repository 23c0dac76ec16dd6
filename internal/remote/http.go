package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// HTTPClient talks to a studio control API over JSON.
//
//	GET  {base}/v1/studios/{owner}/{teamspace}/{name}/status -> {"status": "..."}
//	POST {base}/v1/studios/{owner}/{teamspace}/{name}/start  {"machine_type": "..."} -> 202
//	POST {base}/v1/studios/{owner}/{teamspace}/{name}/stop   -> 202
type HTTPClient struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPClient creates a control API client. timeout bounds each
// request; callers additionally pass per-call contexts.
func NewHTTPClient(base, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

type startRequest struct {
	MachineType string `json:"machine_type"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *HTTPClient) Poll(ctx context.Context, id domain.ResourceID) (domain.State, error) {
	resp, err := c.do(ctx, http.MethodGet, c.studioURL(id)+"/status", nil)
	if err != nil {
		return domain.StateUnknown, &Error{Kind: KindTransient, Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.StateUnknown, classify("poll", resp)
	}

	var sr statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&sr); err != nil {
		return domain.StateUnknown, &Error{Kind: KindTransient, Op: "poll", Err: fmt.Errorf("decode: %w", err)}
	}

	state, err := mapState(sr.Status)
	if err != nil {
		return domain.StateUnknown, &Error{Kind: KindTerminal, Op: "poll", Err: err}
	}
	return state, nil
}

func (c *HTTPClient) Start(ctx context.Context, id domain.ResourceID, machine domain.MachineType) error {
	if machine == "" {
		machine = domain.MachineCPU
	}
	body, err := json.Marshal(startRequest{MachineType: string(machine)})
	if err != nil {
		return &Error{Kind: KindTerminal, Op: "start", Err: fmt.Errorf("marshal: %w", err)}
	}

	resp, err := c.do(ctx, http.MethodPost, c.studioURL(id)+"/start", body)
	if err != nil {
		return &Error{Kind: KindTransient, Op: "start", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return classify("start", resp)
	}
	return nil
}

func (c *HTTPClient) Stop(ctx context.Context, id domain.ResourceID) error {
	resp, err := c.do(ctx, http.MethodPost, c.studioURL(id)+"/stop", nil)
	if err != nil {
		return &Error{Kind: KindTransient, Op: "stop", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return classify("stop", resp)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}

func (c *HTTPClient) studioURL(id domain.ResourceID) string {
	return fmt.Sprintf("%s/v1/studios/%s/%s/%s",
		c.base,
		url.PathEscape(id.Owner),
		url.PathEscape(id.Teamspace),
		url.PathEscape(id.Name))
}

// classify maps a non-success HTTP response to the error taxonomy.
// 408, 429 and 5xx are retryable; any other 4xx is a rejection.
func classify(op string, resp *http.Response) *Error {
	var ae apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ae)

	msg := ae.Error
	if msg == "" {
		msg = resp.Status
	}
	err := fmt.Errorf("control api: %s", msg)

	kind := KindTerminal
	if resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500 {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// mapState normalizes control API status strings. The API reports
// pending states itself while a transition settles.
func mapState(s string) (domain.State, error) {
	switch strings.ToLower(s) {
	case "stopped":
		return domain.StateStopped, nil
	case "pending", "starting":
		return domain.StateStarting, nil
	case "running":
		return domain.StateRunning, nil
	case "stopping":
		return domain.StateStopping, nil
	case "error", "failed":
		return domain.StateError, nil
	}
	return domain.StateUnknown, fmt.Errorf("unknown studio status %q", s)
}
