// Package events publishes worker progress to a RabbitMQ topic exchange for
// the dashboard to consume. Publishing follows the same contract as liveness
// reporting: failures are logged by the caller and never abort ingestion.
package events

import "time"

const (
	Source = "tg-analyzer-worker"

	KeyBatchPersisted = "worker.batch.persisted"
	KeyRunFinished    = "worker.run.finished"
)

type Meta struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type BatchPersisted struct {
	ChatID int64  `json:"chat_id"`
	Saved  int64  `json:"saved"`
	Mode   string `json:"mode"`
}

type RunFinished struct {
	Session     string `json:"session"`
	DirectPeers int    `json:"direct_peers"`
}
