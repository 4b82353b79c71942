package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/suPer8Hu/chat-agents/internal/progress"
)

type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderBot    SenderType = "bot"
	SenderSystem SenderType = "system"
)

type ChatRoom struct {
	ID          string         `gorm:"primaryKey;size:26" json:"id"` // ULID
	UserID      uint64         `gorm:"index;not null" json:"user_id"`
	ChatbotID   uint64         `gorm:"index;not null" json:"chatbot_id"`
	Name        string         `gorm:"type:varchar(128)" json:"name"`
	Settings    datatypes.JSON `json:"settings"`
	ContextData datatypes.JSON `json:"context_data"`
	IsDeleted   bool           `gorm:"not null;default:false" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

// Concept is the room persona ("FRIEND", "HONEY", ...), FRIEND when unset.
func (r *ChatRoom) Concept() string {
	var s struct {
		Concept string `json:"concept"`
	}
	if len(r.Settings) > 0 && json.Unmarshal(r.Settings, &s) == nil && s.Concept != "" {
		return s.Concept
	}
	return "FRIEND"
}

type Chatbot struct {
	ID                   uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                 string         `gorm:"type:varchar(64);not null" json:"name"`
	DisplayName          string         `gorm:"type:varchar(128)" json:"display_name"`
	ModelName            string         `gorm:"type:varchar(64)" json:"model_name"`
	SystemPrompt         string         `gorm:"type:text" json:"system_prompt"`
	IntimacySystemPrompt string         `gorm:"type:text" json:"intimacy_system_prompt"`
	Personality          datatypes.JSON `json:"personality"`
	Capabilities         datatypes.JSON `json:"capabilities"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (Chatbot) TableName() string { return "chatbots" }

type Message struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatroomID       string     `gorm:"type:varchar(26);not null;index:uniq_chat_msg_room_seq,unique,priority:1" json:"chatroom_id"`
	SenderType       SenderType `gorm:"type:varchar(16);index;not null" json:"sender_type"`
	SenderID         *uint64    `json:"sender_id,omitempty"`
	Content          string     `gorm:"type:text;not null" json:"content"`
	ContentType      string     `gorm:"type:varchar(16);not null;default:'text'" json:"content_type"`
	SequenceNumber   int64      `gorm:"not null;index:uniq_chat_msg_room_seq,unique,priority:2" json:"sequence_number"`
	TokenCount       int        `json:"token_count"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	IsEdited         bool       `gorm:"not null;default:false" json:"is_edited"`
	IsDeleted        bool       `gorm:"not null;default:false" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }

// IntimacyProgress is 1:1 with a room and created on first write.
// Version is bumped on every update; writers go through ProgressStore.
type IntimacyProgress struct {
	ID               uint64                                `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatroomID       string                                `gorm:"type:varchar(26);uniqueIndex;not null" json:"chatroom_id"`
	UserID           uint64                                `gorm:"index;not null" json:"user_id"`
	IntimacyLevel    int                                   `gorm:"not null;default:1" json:"intimacy_level"`
	TotalCorrections int                                   `gorm:"not null;default:0" json:"total_corrections"`
	LastFeedback     string                                `gorm:"type:text" json:"last_feedback"`
	LastUpdated      time.Time                             `json:"last_updated"`
	ProgressData     datatypes.JSONType[progress.Document] `json:"progress_data"`
	Version          int64                                 `gorm:"not null;default:0" json:"-"`
}

func (IntimacyProgress) TableName() string { return "intimacy_progress" }

func (p *IntimacyProgress) Doc() progress.Document {
	d := p.ProgressData.Data()
	if d.Version == 0 {
		d.Version = progress.SchemaVersion
	}
	return d
}

func (p *IntimacyProgress) SetDoc(d progress.Document) {
	p.ProgressData = datatypes.NewJSONType(d)
}
