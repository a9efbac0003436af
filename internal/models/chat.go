package models

import "time"

// DefaultChatTitle is used when a chat is created without a title.
const DefaultChatTitle = "Untitled Chat"

// Chat is a conversation that owns an ordered list of messages.
type Chat struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:256" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ChatID;references:ID" json:"-"`
}
