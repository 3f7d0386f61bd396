package gwtypes

// BatchRequestItem is one line of a batch submission (spec.md §4.4,
// §6): CustomID is the caller-assigned key a BatchResultItem is later
// matched back to, since a provider's batch file returns rows in
// whatever order it finishes them, not submission order.
type BatchRequestItem struct {
	CustomID string
	Request  *CanonicalRequest
	ModelID  string
}

// BatchStatus is the canonical three-state projection of every batch
// provider's richer native status vocabulary (spec.md §6 "Batch
// endpoints").
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchHandle identifies one in-flight batch job so a later PollBatch
// call can check on it without re-submitting anything.
type BatchHandle struct {
	Provider string
	// ID is the upstream batch id ("POST /batches" response).
	ID string
	// InputFileID is the uploaded JSONL file id the batch job was
	// created against; retained for diagnostics.
	InputFileID string
}

// BatchResultItem pairs one BatchRequestItem's CustomID with its
// outcome once the batch completes: exactly one of Response/Err is set.
type BatchResultItem struct {
	CustomID string
	Response *ProviderResponse
	Err      error
}

// BatchResult is the outcome of a PollBatch call: Status reports
// whether the job is still running, and Items is only populated once
// Status is BatchCompleted.
type BatchResult struct {
	Status BatchStatus
	Items  []BatchResultItem
}
