// Package messaging stores chats and their messages for the development
// backend.
package messaging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultLimit is the page size used when a caller passes limit <= 0.
const DefaultLimit = 100

// ErrNotFound is returned when a chat or message does not exist.
var ErrNotFound = errors.New("messaging: not found")

// ErrInvalid matches every validation failure under errors.Is.
var ErrInvalid = errors.New("messaging: invalid input")

type invalidError string

func (e invalidError) Error() string        { return string(e) }
func (e invalidError) Is(target error) bool { return target == ErrInvalid }

func invalidf(format string, args ...interface{}) error {
	return invalidError(fmt.Sprintf(format, args...))
}

// SendOpts holds optional parameters for sending a message.
type SendOpts struct {
	ChunkID *string
	Role    models.Role   // defaults to user
	Task    models.Task   // defaults to chat
	Status  models.Status // defaults to pending
}

// Send stores a new message in a chat.
func Send(db *gorm.DB, chatID, content string, opts SendOpts) (*models.Message, error) {
	if chatID == "" {
		return nil, invalidf("messaging: chat_id is required")
	}
	if opts.Role == "" {
		opts.Role = models.RoleUser
	}
	if opts.Task == "" {
		opts.Task = models.TaskChat
	}
	if opts.Status == "" {
		opts.Status = models.StatusPending
	}
	if !opts.Role.Valid() {
		return nil, invalidf("messaging: invalid role %q", opts.Role)
	}
	if !opts.Task.Valid() {
		return nil, invalidf("messaging: invalid task %q", opts.Task)
	}
	if !opts.Status.Valid() {
		return nil, invalidf("messaging: invalid status %q", opts.Status)
	}

	if _, err := GetChat(db, chatID); err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		ChunkID: opts.ChunkID,
		Content: content,
		Role:    opts.Role,
		Task:    opts.Task,
		Status:  opts.Status,
	}
	if err := db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("messaging: send: %w", err)
	}
	return &msg, nil
}

// History returns a page of a chat's messages in insertion order.
func History(db *gorm.DB, chatID string, skip, limit int) ([]models.Message, error) {
	if chatID == "" {
		return nil, invalidf("messaging: chat_id is required")
	}
	skip, limit = page(skip, limit)

	var msgs []models.Message
	if err := db.Where("chat_id = ?", chatID).
		Order("seq ASC").Offset(skip).Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: history %s: %w", chatID, err)
	}
	return msgs, nil
}

// Get returns one message by id.
func Get(db *gorm.DB, id string) (*models.Message, error) {
	var msg models.Message
	err := db.Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: get message %s: %w", id, err)
	}
	return &msg, nil
}

// Update holds the fields of a message that may change. Nil fields are
// left alone.
type Update struct {
	Content *string        `json:"content,omitempty"`
	Task    *models.Task   `json:"task,omitempty"`
	Status  *models.Status `json:"status,omitempty"`
	ChunkID *string        `json:"chunk_id,omitempty"`
}

// UpdateMessage applies u to the message with id and returns the result.
func UpdateMessage(db *gorm.DB, id string, u Update) (*models.Message, error) {
	fields := map[string]interface{}{}
	if u.Content != nil {
		fields["content"] = *u.Content
	}
	if u.Task != nil {
		if !u.Task.Valid() {
			return nil, invalidf("messaging: invalid task %q", *u.Task)
		}
		fields["task"] = *u.Task
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return nil, invalidf("messaging: invalid status %q", *u.Status)
		}
		fields["status"] = *u.Status
	}
	if u.ChunkID != nil {
		fields["chunk_id"] = *u.ChunkID
	}

	if len(fields) > 0 {
		result := db.Model(&models.Message{}).Where("id = ?", id).Updates(fields)
		if result.Error != nil {
			return nil, fmt.Errorf("messaging: update %s: %w", id, result.Error)
		}
	}
	// RowsAffected is 0 on MySQL for a no-op update, so Get decides not-found.
	return Get(db, id)
}

// SetStatus moves a message to status.
func SetStatus(db *gorm.DB, id string, status models.Status) error {
	_, err := UpdateMessage(db, id, Update{Status: &status})
	return err
}

// DeleteMessage removes a message.
func DeleteMessage(db *gorm.DB, id string) error {
	result := db.Where("id = ?", id).Delete(&models.Message{})
	if result.Error != nil {
		return fmt.Errorf("messaging: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	return nil
}

// PendingUserMessages returns user chat messages still waiting for the
// agent, oldest first.
func PendingUserMessages(db *gorm.DB, limit int) ([]models.Message, error) {
	_, limit = page(0, limit)
	var msgs []models.Message
	if err := db.Where("role = ? AND task = ? AND status = ?", models.RoleUser, models.TaskChat, models.StatusPending).
		Order("seq ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: pending: %w", err)
	}
	return msgs, nil
}

// StatusCount is the number of messages with one task and status.
type StatusCount struct {
	Task   models.Task
	Status models.Status
	Count  int64
}

// CountByStatus groups all messages by task and status.
func CountByStatus(db *gorm.DB) ([]StatusCount, error) {
	var counts []StatusCount
	if err := db.Model(&models.Message{}).
		Select("task, status, COUNT(*) AS count").
		Group("task, status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("messaging: count: %w", err)
	}
	return counts, nil
}

// --- chats ---

// CreateChat stores a new chat. A blank title becomes models.DefaultChatTitle.
func CreateChat(db *gorm.DB, title string) (*models.Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = models.DefaultChatTitle
	}
	chat := models.Chat{ID: uuid.NewString(), Title: title}
	if err := db.Create(&chat).Error; err != nil {
		return nil, fmt.Errorf("messaging: create chat: %w", err)
	}
	return &chat, nil
}

// ListChats returns a page of chats, newest first.
func ListChats(db *gorm.DB, skip, limit int) ([]models.Chat, error) {
	skip, limit = page(skip, limit)
	var chats []models.Chat
	if err := db.Order("created_at DESC").Offset(skip).Limit(limit).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("messaging: list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns one chat by id.
func GetChat(db *gorm.DB, id string) (*models.Chat, error) {
	var chat models.Chat
	err := db.Where("id = ?", id).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("messaging: get chat %s: %w", id, err)
	}
	return &chat, nil
}

// RenameChat changes a chat's title.
func RenameChat(db *gorm.DB, id, title string) (*models.Chat, error) {
	if strings.TrimSpace(title) == "" {
		return nil, invalidf("messaging: title is required")
	}
	result := db.Model(&models.Chat{}).Where("id = ?", id).Update("title", title)
	if result.Error != nil {
		return nil, fmt.Errorf("messaging: rename chat %s: %w", id, result.Error)
	}
	return GetChat(db, id)
}

// DeleteChat removes a chat and all of its messages.
func DeleteChat(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("messaging: delete messages of %s: %w", id, err)
		}
		result := tx.Where("id = ?", id).Delete(&models.Chat{})
		if result.Error != nil {
			return fmt.Errorf("messaging: delete chat %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: chat %s", ErrNotFound, id)
		}
		return nil
	})
}

func page(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return skip, limit
}
