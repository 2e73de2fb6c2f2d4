package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"intake/pkg/attach"
	"intake/pkg/logx"
)

// Payload is the outbound submission envelope.
type Payload struct {
	Action string              `json:"action"`
	Data   map[string]any      `json:"data"`
	Files  []attach.StagedFile `json:"files"`
}

// Response is the delivery endpoint's reply contract.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Deliverer is the opaque delivery capability. A nil error means the
// endpoint accepted the submission.
type Deliverer interface {
	Deliver(ctx context.Context, payload *Payload) error
}

// Disabled is the no-endpoint variant; every delivery attempt fails.
type Disabled struct{}

// Deliver always fails; no endpoint is configured.
func (Disabled) Deliver(context.Context, *Payload) error {
	return errors.New("delivery endpoint not configured")
}

// HTTPDeliverer posts the envelope as JSON to a fixed endpoint. The body
// is sent with a text/plain content type so the request stays a simple
// cross-origin request; the endpoint parses the JSON regardless.
type HTTPDeliverer struct {
	endpoint string
	client   *http.Client
	logger   *logx.Logger
}

// NewHTTPDeliverer returns a deliverer for the given endpoint URL.
func NewHTTPDeliverer(endpoint string) *HTTPDeliverer {
	return &HTTPDeliverer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logx.NewLogger("deliver"),
	}
}

// Deliver posts the payload once. Non-2xx statuses and success=false
// replies are failures; the coordinator owns retrying.
func (d *HTTPDeliverer) Deliver(ctx context.Context, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read delivery response: %w", err)
	}

	var reply Response
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("failed to parse delivery response: %w", err)
	}
	if !reply.Success {
		if reply.Error != "" {
			return fmt.Errorf("delivery refused: %s", reply.Error)
		}
		return fmt.Errorf("delivery refused without a reason")
	}

	d.logger.Info("Submission delivered to %s", d.endpoint)
	return nil
}
