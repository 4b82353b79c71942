package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

const maxSequenceAttempts = 5

type Repo struct {
	db *gorm.DB

	// per-room critical section for sequence assignment; the unique index
	// on (chatroom_id, sequence_number) covers other processes
	roomLocks sync.Map
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) CreateRoom(ctx context.Context, room *ChatRoom) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *Repo) CreateChatbot(ctx context.Context, bot *Chatbot) error {
	return r.db.WithContext(ctx).Create(bot).Error
}

// GetRoom returns a non-deleted room.
func (r *Repo) GetRoom(ctx context.Context, roomID string) (*ChatRoom, error) {
	var room ChatRoom
	if err := r.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", roomID, false).
		First(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repo) GetChatbot(ctx context.Context, id uint64) (*Chatbot, error) {
	var bot Chatbot
	if err := r.db.WithContext(ctx).First(&bot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &bot, nil
}

// GetRoomWithBot loads a room and its bot. A missing bot is not an error.
func (r *Repo) GetRoomWithBot(ctx context.Context, roomID string) (*ChatRoom, *Chatbot, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	bot, err := r.GetChatbot(ctx, room.ChatbotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return room, nil, nil
		}
		return nil, nil, err
	}
	return room, bot, nil
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) lockRoom(roomID string) func() {
	v, _ := r.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// InsertMessage assigns the next sequence number for the room and inserts m.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.inRoomTx(ctx, m.ChatroomID, func(tx *gorm.DB) error {
		return insertWithSequence(tx, m)
	})
}

// inRoomTx runs fn in a transaction while holding the room lock, retrying
// when another writer took the same sequence number first.
func (r *Repo) inRoomTx(ctx context.Context, roomID string, fn func(tx *gorm.DB) error) error {
	unlock := r.lockRoom(roomID)
	defer unlock()

	var err error
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return fmt.Errorf("assign sequence for room %s: %w", roomID, err)
}

func insertWithSequence(tx *gorm.DB, m *Message) error {
	var maxSeq int64
	if err := tx.Model(&Message{}).
		Where("chatroom_id = ?", m.ChatroomID).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&maxSeq).Error; err != nil {
		return err
	}
	m.ID = 0
	m.SequenceNumber = maxSeq + 1
	if m.ContentType == "" {
		m.ContentType = "text"
	}
	return tx.Create(m).Error
}

// ListRecentMessages returns up to limit non-deleted messages in ascending sequence order.
func (r *Repo) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var desc []Message
	if err := r.db.WithContext(ctx).
		Where("chatroom_id = ? AND is_deleted = ?", roomID, false).
		Order("sequence_number DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	return desc, nil
}

// Turn jobs

// CreateTurn persists the user message and its job atomically. When the
// (user, idempotency key) pair already exists the existing job is returned
// and nothing is written.
func (r *Repo) CreateTurn(ctx context.Context, msg *Message, job *TurnJob) (*TurnJob, bool, error) {
	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}
	if job.IdempotencyKey != nil {
		existing, err := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	err := r.inRoomTx(ctx, msg.ChatroomID, func(tx *gorm.DB) error {
		if err := insertWithSequence(tx, msg); err != nil {
			return err
		}
		job.MessageID = msg.ID
		job.ChatroomID = msg.ChatroomID
		if job.Status == "" {
			job.Status = JobQueued
		}
		err := tx.Create(job).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) && job.IdempotencyKey != nil {
			return errDuplicateTurn
		}
		return err
	})
	if errors.Is(err, errDuplicateTurn) {
		existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

var errDuplicateTurn = errors.New("duplicate turn")

func (r *Repo) GetJobByID(ctx context.Context, id string) (*TurnJob, error) {
	var j TurnJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*TurnJob, error) {
	var job TurnJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkJobRunning claims a job for this worker. A queued job is always
// claimable; a running job is only when its last update is older than
// staleAfter, meaning the worker that took it is gone. staleAfter <= 0 never
// re-claims. ok is false when another worker holds the job or it finished.
func (r *Repo) MarkJobRunning(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	q := r.db.WithContext(ctx).Model(&TurnJob{})
	if staleAfter > 0 {
		q = q.Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			id, JobQueued, JobRunning, r.db.NowFunc().Add(-staleAfter))
	} else {
		q = q.Where("id = ? AND status = ?", id, JobQueued)
	}
	// bumps updated_at, which is what the next staleness check reads
	res := q.Update("status", JobRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
