package shared

const (
	ProjectID = "sitebridge-project" // Can be overridden by env var in main if needed

	// Webhook delivery has no default topic: it stays disabled unless
	// WEBHOOK_TOPIC is configured.
	TopicRefreshFinished = "topic-refresh-finished" // Enrichment pipeline entry point

	CollectionUsers           = "users"
	CollectionExecutions      = "executions"
	CollectionActivities      = "activities"
	CollectionActivityEvents  = "activity_events"
	CollectionConsentSessions = "consent_sessions"
	CollectionSessionStates   = "session_states"
)
