package billing

import "time"

// AiUsageEvent is one append-only ledger row per LLM call (or per usage frame).
type AiUsageEvent struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"` // UUID
	EventTime    time.Time `gorm:"index;not null" json:"event_time"`
	UserID       uint64    `gorm:"index:idx_usage_user_time,priority:1;not null" json:"user_id"`
	ChatroomID   string    `gorm:"type:varchar(26);index" json:"chatroom_id"`
	Provider     string    `gorm:"type:varchar(32)" json:"provider"`
	Model        string    `gorm:"type:varchar(64)" json:"model"`
	RequestID    string    `gorm:"type:varchar(64);index" json:"request_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostIn       float64   `json:"cost_in"`
	CostOut      float64   `json:"cost_out"`
}

func (AiUsageEvent) TableName() string { return "ai_usage_events" }

// MonthlyUserCost is accumulated in place; it is never recomputed from the ledger.
type MonthlyUserCost struct {
	UserID           uint64    `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	BillingMonth     string    `gorm:"primaryKey;type:varchar(7)" json:"billing_month"` // YYYY-MM
	InputTokens      int64     `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens     int64     `gorm:"not null;default:0" json:"output_tokens"`
	CostIn           float64   `gorm:"not null;default:0" json:"cost_in"`
	CostOut          float64   `gorm:"not null;default:0" json:"cost_out"`
	TotalCost        float64   `gorm:"not null;default:0" json:"total_cost"`
	LastAggregatedAt time.Time `json:"last_aggregated_at"`
}

func (MonthlyUserCost) TableName() string { return "monthly_user_costs" }
