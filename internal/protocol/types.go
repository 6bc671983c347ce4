package protocol

import "time"

// Version is the envelope version spoken with connectors.
const Version = 1

// Request is the envelope written to a connector's stdin.
type Request struct {
	Protocol    int            `json:"protocol"`
	ExecutionID string         `json:"execution_id"`
	Command     string         `json:"command"`
	Account     string         `json:"account"`
	Origin      string         `json:"origin,omitempty"`
	Timeline    string         `json:"timeline,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	EntityIDs   []string       `json:"entity_ids,omitempty"`
	Query       string         `json:"query,omitempty"`
	Body        string         `json:"body,omitempty"`
	Config      map[string]any `json:"config"`
	State       map[string]any `json:"state"`
	DeadlineAt  time.Time      `json:"deadline_at"`
}

// Response is the envelope read from a connector's stdout.
type Response struct {
	Status       string         `json:"status"` // ok | error
	Error        string         `json:"error,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	Retry        *bool          `json:"retry,omitempty"`
	Items        []Item         `json:"items,omitempty"`
	Downloaded   int            `json:"downloaded,omitempty"`
	StateUpdates map[string]any `json:"state_updates,omitempty"`
	Logs         []LogEntry     `json:"logs,omitempty"`
}

// ErrorKind is the connector's classification of a failure.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindUnsupported ErrorKind = "unsupported"
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindIO          ErrorKind = "io"
	KindServer      ErrorKind = "server"
	KindRateLimited ErrorKind = "rate_limited"
)

// Item is one piece of social content a connector downloaded.
type Item struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"` // note | actor | media | ...
	Notification string         `json:"notification,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// LogEntry is a log line a connector wants surfaced in our log.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// ShouldRetry reports whether a failed response may be retried.
// An omitted retry flag means yes.
func (r *Response) ShouldRetry() bool {
	if r.Retry == nil {
		return true
	}
	return *r.Retry
}
