package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// TurnMode selects which pipeline answers a user message.
type TurnMode string

const (
	ModeMulti  TurnMode = "multi"
	ModeSingle TurnMode = "single"
)

// TurnJob tracks one queued user message through the worker.
type TurnJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID     uint64 `gorm:"index;not null;index:uniq_turn_user_idempo,unique,priority:1"`
	ChatroomID string `gorm:"size:26;index;not null"`
	MessageID  uint64 `gorm:"index;not null"`

	Mode TurnMode `gorm:"type:varchar(16);not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_turn_user_idempo,unique,priority:2" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TurnJob) TableName() string { return "chat_turn_jobs" }
