package messaging

// Subject constants for the engine task bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// Task subjects - consumed by the engine worker pool
	SubjectTasksPipeline = "engine.tasks.pipeline" // Run the assessment pipeline for an alert
	SubjectTasksNotify   = "engine.tasks.notify"   // Execute notification decision for an alert

	// Alert lifecycle subjects - published for external consumers
	SubjectAlertsCreated = "engine.alerts.created" // New alert created at ingestion
	SubjectAlertsUpdated = "engine.alerts.updated" // Alert AI status changed
)

// Queue group names for load-balanced consumers.
// Workers in the same queue group share messages (each message processed once).
const (
	QueueEngineWorkers = "engine-workers" // Pool of pipeline/notification workers
)
