// Package billing records token usage: an append-only ledger plus a per-user
// monthly rollup, written together in one transaction.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/chat-agents/internal/logger"
	"github.com/suPer8Hu/chat-agents/internal/metrics"
)

// Pricing is the price per 1000 tokens.
type Pricing struct {
	PerKInput  float64
	PerKOutput float64
}

func CostFor(p Pricing, inputTokens, outputTokens int) (costIn, costOut float64) {
	return float64(inputTokens) / 1000 * p.PerKInput, float64(outputTokens) / 1000 * p.PerKOutput
}

// Month formats t as the billing month key, in UTC.
func Month(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type Usage struct {
	UserID       uint64
	ChatroomID   string
	Provider     string
	Model        string
	RequestID    string
	InputTokens  int
	OutputTokens int
	CostIn       float64
	CostOut      float64
	EventTime    time.Time // zero means now
}

type Recorder struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewRecorder(db *gorm.DB, log *logger.Logger) *Recorder {
	return &Recorder{db: db, log: logger.OrNop(log).With("component", "billing.Recorder"), now: time.Now}
}

// Record inserts the ledger row and bumps the monthly rollup atomically.
func (r *Recorder) Record(ctx context.Context, u Usage) (*AiUsageEvent, error) {
	at := u.EventTime
	if at.IsZero() {
		at = r.now()
	}
	ev := &AiUsageEvent{
		ID:           uuid.NewString(),
		EventTime:    at,
		UserID:       u.UserID,
		ChatroomID:   u.ChatroomID,
		Provider:     u.Provider,
		Model:        u.Model,
		RequestID:    u.RequestID,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostIn:       u.CostIn,
		CostOut:      u.CostOut,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("insert usage event: %w", err)
		}

		row := MonthlyUserCost{
			UserID:           u.UserID,
			BillingMonth:     Month(at),
			InputTokens:      int64(u.InputTokens),
			OutputTokens:     int64(u.OutputTokens),
			CostIn:           u.CostIn,
			CostOut:          u.CostOut,
			TotalCost:        u.CostIn + u.CostOut,
			LastAggregatedAt: r.now(),
		}
		// col = col + ? keeps concurrent writers from losing increments
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "billing_month"}},
			DoUpdates: clause.Assignments(map[string]any{
				"input_tokens":       gorm.Expr("input_tokens + ?", u.InputTokens),
				"output_tokens":      gorm.Expr("output_tokens + ?", u.OutputTokens),
				"cost_in":            gorm.Expr("cost_in + ?", u.CostIn),
				"cost_out":           gorm.Expr("cost_out + ?", u.CostOut),
				"total_cost":         gorm.Expr("total_cost + ?", u.CostIn+u.CostOut),
				"last_aggregated_at": row.LastAggregatedAt,
			}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert monthly cost: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("record usage failed", "user_id", u.UserID, "room_id", u.ChatroomID, "error", err)
		return nil, err
	}

	metrics.ObserveUsage(u.Provider, u.Model, u.InputTokens, u.OutputTokens, u.CostIn+u.CostOut)
	return ev, nil
}

func (r *Recorder) Monthly(ctx context.Context, userID uint64, month string) (*MonthlyUserCost, error) {
	var m MonthlyUserCost
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND billing_month = ?", userID, month).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
