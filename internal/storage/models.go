package storage

import (
	"time"

	"github.com/google/uuid"
)

// CycleRecord is one completed detection cycle. Ratio and ZScore are nil when
// infinite.
type CycleRecord struct {
	ID             uuid.UUID
	CycleTS        time.Time
	StartBlock     uint64
	EndBlock       uint64
	HighValueCount uint64
	BaselineMean   float64
	BaselineStd    float64
	Ratio          *float64
	ZScore         *float64
	Alerted        bool
	CreatedAt      time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	CycleID   *uuid.UUID
	EndBlock  uint64
	Message   string
	Delivered bool
	Error     *string
	CreatedAt time.Time
}
