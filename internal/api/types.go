package api

// CommandRequest is the JSON body for POST /commands.
type CommandRequest struct {
	Type         string   `json:"type"`
	Account      string   `json:"account"`
	Timeline     string   `json:"timeline,omitempty"`
	EntityID     string   `json:"entity_id,omitempty"`
	EntityIDs    []string `json:"entity_ids,omitempty"`
	Query        string   `json:"query,omitempty"`
	Body         string   `json:"body,omitempty"`
	Manual       bool     `json:"manual,omitempty"`
	InForeground bool     `json:"in_foreground,omitempty"`
}

// CommandResponse is returned once a command was handed to the queue set.
type CommandResponse struct {
	ID      int64  `json:"id"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
}

// CancelResponse is returned by DELETE /commands.
type CancelResponse struct {
	Canceled int     `json:"canceled"`
	IDs      []int64 `json:"ids"`
}

// ForegroundState is the body of GET and PUT /foreground. On PUT, nil
// fields are left unchanged.
type ForegroundState struct {
	InForeground   *bool `json:"in_foreground,omitempty"`
	SyncWhileUsing *bool `json:"sync_while_using,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Executing     int    `json:"executing"`
	InForeground  bool   `json:"in_foreground"`
	EventsDropped int64  `json:"events_dropped"`
}
