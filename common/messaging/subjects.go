package messaging

// Subjects follow {domain}.{kind}.{action}.
const (
	// SubjectCorrelationJobsRun carries requests to run correlation rules over scans.
	SubjectCorrelationJobsRun = "correlation.jobs.run"

	// SubjectCorrelationResultsRun is broadcast after every completed correlation run.
	SubjectCorrelationResultsRun = "correlation.results.run"
)

// Queue groups for load-balanced consumers.
const (
	QueueCorrelationWorkers = "correlation-workers"
)

// CorrelationRunResultSubject returns the per-job result subject, e.g.
// correlation.results.run.0192f7c0-...
func CorrelationRunResultSubject(jobID string) string {
	return SubjectCorrelationResultsRun + "." + jobID
}
