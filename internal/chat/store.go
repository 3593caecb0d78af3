package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tianyan-ai/chat-backend/internal/logger"
	"github.com/tianyan-ai/chat-backend/internal/models"
)

var (
	// ErrNotFound: no active record matched the (user, chat) key.
	ErrNotFound = errors.New("chat: record not found")
	// ErrCorruptSession: the record exists but its session_data does not
	// parse. Reported distinctly so callers can tell storage rot from a
	// missing row.
	ErrCorruptSession = errors.New("chat: corrupt session data")
)

const (
	DefaultTitle = "默认对话"
	NewChatTitle = "新对话"
)

// sessionDocument is the JSON shape of chat_histories.session_data.
// Always valid JSON with a messages array, even when empty.
type sessionDocument struct {
	Messages   []Message  `json:"messages"`
	TokenCount TokenCount `json:"token_count"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Session is a loaded conversation.
type Session struct {
	ChatID     uint64
	Messages   []Message
	TokenCount TokenCount
}

// Store reads and writes conversations as JSON documents inside
// chat_histories rows.
type Store struct {
	db     *gorm.DB
	budget *Budget
}

func NewStore(db *gorm.DB, budget *Budget) *Store {
	return &Store{db: db, budget: budget}
}

func (s *Store) encode(messages []Message) (string, TokenCount, error) {
	if messages == nil {
		messages = []Message{}
	}
	tc := s.budget.Totals(messages)
	doc := sessionDocument{
		Messages:   messages,
		TokenCount: tc,
		UpdatedAt:  time.Now(),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", TokenCount{}, err
	}
	return string(b), tc, nil
}

// Save serializes messages into the record's session_data and returns
// the id of the row it wrote. Without a chatID it targets the user's
// most recently updated record, creating one titled after the first user
// message if none exists. Returns ErrNotFound when the addressed row
// does not exist under userID.
func (s *Store) Save(ctx context.Context, userID uint64, messages []Message, chatID uint64) (uint64, error) {
	if chatID == 0 {
		var h models.ChatHistory
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND is_active = ?", userID, true).
			Order("updated_at DESC").
			First(&h).Error
		switch {
		case err == nil:
			chatID = h.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			return s.Create(ctx, userID, titleFrom(messages), messages)
		default:
			return 0, err
		}
	}

	data, _, err := s.encode(messages)
	if err != nil {
		return 0, err
	}

	res := s.db.WithContext(ctx).Model(&models.ChatHistory{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]any{
			"session_data": data,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		logger.L().Warn("no chat history row to update",
			zap.Uint64("chat_id", chatID), zap.Uint64("user_id", userID))
		return 0, ErrNotFound
	}
	return chatID, nil
}

// titleFrom derives a record title from the first user message, capped
// at 20 runes.
func titleFrom(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		text := m.TextContent()
		if text == "" {
			break
		}
		runes := []rune(text)
		if len(runes) > 20 {
			return string(runes[:20]) + "..."
		}
		return text
	}
	return DefaultTitle
}

// Load reads a conversation. Without a chatID it picks the user's most
// recently updated active record.
func (s *Store) Load(ctx context.Context, userID uint64, chatID uint64) (*Session, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true)
	if chatID == 0 {
		q = q.Order("updated_at DESC")
	} else {
		q = q.Where("id = ?", chatID)
	}

	var h models.ChatHistory
	if err := q.First(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if h.SessionData == "" {
		return &Session{ChatID: h.ID, Messages: []Message{}}, nil
	}

	var doc sessionDocument
	if err := json.Unmarshal([]byte(h.SessionData), &doc); err != nil {
		logger.L().Error("session data does not parse",
			zap.Uint64("chat_id", h.ID), zap.Error(err))
		return nil, ErrCorruptSession
	}
	if doc.Messages == nil {
		doc.Messages = []Message{}
	}
	return &Session{ChatID: h.ID, Messages: doc.Messages, TokenCount: doc.TokenCount}, nil
}

// Create inserts a fresh conversation record and returns its id. An
// empty title gets the new-conversation default.
func (s *Store) Create(ctx context.Context, userID uint64, title string, initial []Message) (uint64, error) {
	if title == "" {
		title = NewChatTitle
	}
	data, _, err := s.encode(initial)
	if err != nil {
		return 0, err
	}
	h := models.ChatHistory{
		UserID:      userID,
		Title:       title,
		SessionData: data,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&h).Error; err != nil {
		return 0, err
	}
	return h.ID, nil
}

// ListEntry is the listing projection; session_data stays in the row.
type ListEntry struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns the user's active conversations, most recently updated
// first. Pure read; restartable.
func (s *Store) List(ctx context.Context, userID uint64, limit int) ([]ListEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []ListEntry
	err := s.db.WithContext(ctx).Model(&models.ChatHistory{}).
		Select("id", "title", "created_at", "updated_at").
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get fetches one active record's metadata regardless of owner; the
// caller enforces ownership.
func (s *Store) Get(ctx context.Context, chatID uint64) (*models.ChatHistory, error) {
	var h models.ChatHistory
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "title", "created_at", "updated_at").
		Where("id = ? AND is_active = ?", chatID, true).
		First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

// Rename updates the title. Returns ErrNotFound when no active row
// matched.
func (s *Store) Rename(ctx context.Context, chatID uint64, title string) error {
	res := s.db.WithContext(ctx).Model(&models.ChatHistory{}).
		Where("id = ? AND is_active = ?", chatID, true).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete flips is_active off. The row stays for audit.
func (s *Store) SoftDelete(ctx context.Context, chatID uint64) error {
	res := s.db.WithContext(ctx).Model(&models.ChatHistory{}).
		Where("id = ? AND is_active = ?", chatID, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
