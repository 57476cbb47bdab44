package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBody caps how much of a server response is buffered.
const maxResponseBody = 4 << 20

// Sender executes mutations against the authoritative server. The interceptor
// and the replayer share one Sender.
type Sender struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

// NewSender builds a Sender. headers carry the agent identity and are added to
// every request after the mutation's own headers, so a mutation cannot
// override them.
func NewSender(baseURL string, timeout time.Duration, headers map[string]string) *Sender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Sender{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
	}
}

// Send performs one request. A failure before a response is available is
// reported as ErrTransport; any response, whatever its status, is returned.
func (s *Sender) Send(ctx context.Context, method, target string, headers map[string]string, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidMutation, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		// The server may have applied the request; the idempotency key makes a retry safe.
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: payload}, nil
}
