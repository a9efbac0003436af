package models

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Task identifies the kind of work that produced a message.
type Task string

const (
	TaskChat      Task = "chat"
	TaskAnalyse   Task = "analyse"
	TaskSummarize Task = "summarize"
)

// Status is the lifecycle state of a message's task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Message is one exchanged utterance or task record within a chat.
// Seq carries insertion order; it is the only ordering the store promises.
type Message struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ID        string    `gorm:"size:36;not null;uniqueIndex" json:"id"`
	ChatID    string    `gorm:"size:36;not null;index" json:"chat_id"`
	ChunkID   *string   `gorm:"size:64" json:"chunk_id"`
	Content   string    `gorm:"type:text" json:"content"`
	Role      Role      `gorm:"size:16;not null" json:"role"`
	Task      Task      `gorm:"size:16;not null;default:chat" json:"task"`
	Status    Status    `gorm:"size:16;not null;default:pending;index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Is reports whether the message has the given task and status.
func (m Message) Is(task Task, status Status) bool {
	return m.Task == task && m.Status == status
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Valid reports whether t is a known task.
func (t Task) Valid() bool {
	switch t {
	case TaskChat, TaskAnalyse, TaskSummarize:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
