package taskname

const (
	// Queues
	QueueMaintenance = "maintenance"

	// Maintenance tasks
	MaintenanceSweep = "maintenance:sweep"
)
