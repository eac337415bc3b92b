package messaging

// Topic constants for the work service
const (
	TopicWorkRequests = "work.requests" // clients → workd
	TopicWorkResults  = "work.results"  // workd → clients, keyed by request ID
)
