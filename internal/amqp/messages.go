package amqp

import (
	"encoding/json"
	"time"
)

// BatchIngestedMessage announces one successfully loaded statement batch.
// Downstream consumers (dashboard refresh, notifications) react to it; the
// pipeline itself never depends on delivery.
type BatchIngestedMessage struct {
	BatchID         string    `json:"batch_id"`
	SourceFile      string    `json:"source_file"`
	Inserted        int       `json:"inserted"`
	SkippedExisting int       `json:"skipped_existing"`
	SkippedRows     int       `json:"skipped_rows"`
	Timestamp       time.Time `json:"timestamp"`
}

func (m *BatchIngestedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
