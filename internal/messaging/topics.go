package messaging

// Topic constants for the worker event stream
const (
	// TopicShareFound - every submitted share, one event per candidate
	TopicShareFound = "gosw.share_found"
	// TopicBlockFound - full-target solutions
	TopicBlockFound = "gosw.block_found"
	// TopicWorkerStats - periodic per-worker counter snapshots
	TopicWorkerStats = "gosw.worker_stats"
)
