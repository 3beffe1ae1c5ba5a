package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatTurn struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:64;not null;index:idx_turn_session_created,priority:1" json:"session_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Model     string    `gorm:"size:64" json:"model,omitempty"`
	Cached    bool      `gorm:"not null;default:false" json:"cached"`
	CreatedAt time.Time `gorm:"index:idx_turn_session_created,priority:2" json:"created_at"`
}

func (ChatTurn) TableName() string {
	return "chat_turns"
}

// TurnBatch is one question/answer exchange. It travels through the persist
// queue as a unit so a session never stores a question without its answer.
type TurnBatch struct {
	SessionID string     `json:"session_id"`
	Turns     []ChatTurn `json:"turns"`
}

func NewExchange(sessionID, question, answer, modelName string, cached bool, at time.Time) TurnBatch {
	return TurnBatch{
		SessionID: sessionID,
		Turns: []ChatTurn{
			{SessionID: sessionID, Role: RoleUser, Content: question, Model: modelName, Cached: cached, CreatedAt: at},
			{SessionID: sessionID, Role: RoleAssistant, Content: answer, Model: modelName, Cached: cached, CreatedAt: at.Add(time.Millisecond)},
		},
	}
}
