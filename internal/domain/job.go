package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobPriority orders jobs for the crawler; selective harvests go first.
type JobPriority string

const (
	JobPriorityHigh JobPriority = "high"
	JobPriorityLow  JobPriority = "low"
)

// Job is a unit of crawl work produced by partitioning: one or more domain
// configurations sharing a template.
type Job struct {
	ID                  uuid.UUID
	HarvestDefinitionID int64

	Template       string
	Configurations []ConfigKey

	// ExpectedObjects is the sum of the member expectations.
	ExpectedObjects int64

	// HarvestNum is the definition's event count when the job was created.
	HarvestNum int

	MaxObjects     int64 // Unlimited (-1) for selective harvests
	MaxBytes       int64
	MaxRunningTime time.Duration

	Priority  JobPriority
	CreatedAt time.Time
}
