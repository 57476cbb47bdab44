// Package offline queues state-mutating requests issued while the device is
// disconnected and replays them, in order, once the server is reachable.
package offline

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// State is the lifecycle position of a queued entry.
type State string

const (
	StatePending  State = "PENDING"
	StateInFlight State = "IN_FLIGHT"
)

// HeaderIdempotencyKey carries the client-generated key the server dedupes on.
const HeaderIdempotencyKey = "Idempotency-Key"

// Entry is one durably queued mutation.
type Entry struct {
	ID             string            `json:"id"`
	Seq            int64             `json:"seq"`
	Method         string            `json:"method"`
	Target         string            `json:"target"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Description    string            `json:"description,omitempty"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	Attempts       int               `json:"attempts"`
	State          State             `json:"state"`
	LastError      string            `json:"last_error,omitempty"`
}

// Mutation is a request the foreground wants executed against the server.
type Mutation struct {
	Method         string
	Target         string
	Headers        map[string]string
	Body           []byte
	IdempotencyKey string
	Description    string
}

// Result is either the server's unmodified response or a queued notice.
type Result struct {
	StatusCode int         `json:"status_code,omitempty"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`
	Queued     bool        `json:"queued"`
	EntryID    string      `json:"entry_id,omitempty"`
}

var (
	// ErrTransport marks failures where no response was received.
	ErrTransport = errors.New("offline: transport failure")
	// ErrEntryNotFound indicates the entry is gone or not in the expected state.
	ErrEntryNotFound = fmt.Errorf("offline: queue entry: %w", shared.ErrNotFound)
	// ErrInvalidMutation indicates a mutation that can never be executed.
	ErrInvalidMutation = fmt.Errorf("offline: invalid mutation: %w", shared.ErrValidation)
)

func isMutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
