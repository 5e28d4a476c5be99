package model

import "time"

// BatchStatus is the terminal state of a batch refresh run.
type BatchStatus string

// Batch statuses.
const (
	BatchCompleted      BatchStatus = "completed"
	BatchAlreadyRunning BatchStatus = "already_running"
	BatchCircuitBroken  BatchStatus = "circuit_broken"
	BatchTimedOut       BatchStatus = "timed_out"
	BatchFailed         BatchStatus = "failed"
)

// BatchRun summarises one proactive refresh run. It only lives for the run plus the summary TTL.
type BatchRun struct {
	BatchID          string        `json:"batch_id"`
	Status           BatchStatus   `json:"status"`
	TotalTokens      int           `json:"total_tokens"`
	Processed        int           `json:"processed"`
	Successful       int           `json:"successful"`
	Failed           int           `json:"failed"`
	BatchesProcessed int           `json:"batches_processed"`
	SuccessRate      float64       `json:"success_rate"`
	Errors           []string      `json:"errors,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// FailureRate is failed/processed over everything processed so far.
func (b *BatchRun) FailureRate() float64 {
	if b.Processed == 0 {
		return 0
	}
	return float64(b.Failed) / float64(b.Processed)
}
