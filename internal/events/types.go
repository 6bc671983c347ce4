package events

// Event types published on the hub.
const (
	ServiceStarted  = "service.started"
	ServiceStopped  = "service.stopped"
	CommandQueued   = "command.queued"
	CommandStarted  = "command.started"
	CommandFinished = "command.finished"
	CommandSkipped  = "command.skipped"
	CommandCanceled = "command.canceled"
	QueueSaved      = "queue.saved"
	Notification    = "notification"
)

// CommandData is the payload of the command.* events.
type CommandData struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Account     string `json:"account"`
	Key         string `json:"key"`
	Outcome     string `json:"outcome,omitempty"`
	Destination string `json:"destination,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	RetriesLeft int    `json:"retries_left"`
	Message     string `json:"message,omitempty"`
	Executor    string `json:"executor,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

func (d CommandData) EventAccount() string { return d.Account }

// Periodic sync trigger events.
const (
	TriggerScheduled = "trigger.scheduled"
	TriggerSkipped   = "trigger.skipped"
)

// TriggerData is the payload of the trigger.* events.
type TriggerData struct {
	Account  string `json:"account"`
	Timeline string `json:"timeline"`
	Detail   string `json:"detail,omitempty"`
}

func (d TriggerData) EventAccount() string { return d.Account }
