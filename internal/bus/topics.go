package bus

// Job lifecycle topics.
const (
	TopicJobEnqueued  = "job.enqueued"
	TopicJobClaimed   = "job.claimed"
	TopicJobCompleted = "job.completed"
	TopicJobFailed    = "job.failed"
	TopicJobRetrying  = "job.retrying"
	TopicJobRecovered = "job.recovered"
)

// Conversation and escalation topics.
const (
	TopicEscalationRaised   = "escalation.raised"
	TopicConversationRouted = "conversation.routed"
	TopicIncidentRecorded   = "incident.recorded"
	TopicMessageSent        = "message.sent"
	TopicMessageSendFailed  = "message.send_failed"
)

// JobCompletedEvent is published when a job reaches a terminal success state.
type JobCompletedEvent struct {
	JobID    string // Job ID
	TenantID string // Tenant ID
	JobType  string // Job type (e.g. response_generation)
}

// JobFailedEvent is published when a job fails (terminally or before a retry).
type JobFailedEvent struct {
	JobID    string // Job ID
	TenantID string // Tenant ID
	JobType  string // Job type
	Error    string // Error message
	Terminal bool   // True when the job will not be retried
}

// EscalationEvent is published when the supervisor escalates a conversation.
type EscalationEvent struct {
	TenantID       string // Tenant ID
	ConversationID string // Conversation ID
	Reason         string // Escalation reason
	NextStage      string // Stage the conversation was routed to
}

// MessageSentEvent is published when an outbound message is delivered to a channel.
type MessageSentEvent struct {
	MessageID string // Outbound message ID
	TenantID  string // Tenant ID
	Channel   string // Channel name (whatsapp, instagram)
	Recovered bool   // True when this delivery came from the recovery sweep
}
