package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/ai"
	"github.com/tianyan-ai/chat-backend/internal/logger"
)

// Gateway is the completion-service dependency. Implementations never
// return call failures as errors on the text path; they degrade into
// reply strings (see internal/ai).
type Gateway interface {
	Complete(ctx context.Context, messages []ai.Message) (reply string, userTokens, assistantTokens int)
	CompleteVision(ctx context.Context, base64Image, prompt string) string
}

// SessionStore is the live-session dependency (internal/session).
type SessionStore interface {
	Get(ctx context.Context, userID uint64) ([]Message, error)
	Set(ctx context.Context, userID uint64, messages []Message) error
	Clear(ctx context.Context, userID uint64) error
}

// Service runs a chat turn: load, append, call upstream, account, roll
// over when the ceiling is reached, persist.
type Service struct {
	store   *Store
	budget  *Budget
	gateway Gateway
	live    SessionStore
}

func NewService(store *Store, budget *Budget, gateway Gateway, live SessionStore) *Service {
	return &Service{store: store, budget: budget, gateway: gateway, live: live}
}

type TurnInput struct {
	UserID uint64
	ChatID uint64 // 0: use the live session
	Text   string
	// Image is the base64 JPEG produced by imagex; empty for text turns.
	Image string
}

type TurnResult struct {
	Reply         string
	TokenCount    TokenCount
	LimitReached  bool
	ChatID        uint64
	NewChatID     uint64
	SystemMessage string
}

func (s *Service) Turn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	messages, err := s.loadTurnContext(ctx, in)
	if err != nil {
		return nil, err
	}

	var reply string
	if in.Image != "" {
		reply = s.visionTurn(ctx, &messages, in)
	} else {
		reply = s.textTurn(ctx, &messages, in)
	}
	messages = append(messages, Text(RoleAssistant, reply))

	totals := s.budget.Totals(messages)

	res := &TurnResult{
		Reply:      reply,
		TokenCount: totals,
		ChatID:     in.ChatID,
	}

	if s.budget.CeilingReached(totals) {
		if err := s.rollover(ctx, in, messages, res); err != nil {
			return nil, err
		}
		// the next turn starts the fresh conversation
		messages = []Message{}
	} else if err := s.persist(ctx, in, messages, res); err != nil {
		return nil, err
	}

	if err := s.live.Set(ctx, in.UserID, messages); err != nil {
		logger.L().Error("live session update failed",
			zap.Uint64("user_id", in.UserID), zap.Error(err))
	}
	return res, nil
}

func (s *Service) loadTurnContext(ctx context.Context, in TurnInput) ([]Message, error) {
	if in.ChatID != 0 {
		sess, err := s.store.Load(ctx, in.UserID, in.ChatID)
		if err != nil {
			// a stale or corrupt target starts a fresh conversation
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorruptSession) {
				return []Message{}, nil
			}
			return nil, err
		}
		return sess.Messages, nil
	}
	msgs, err := s.live.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *Service) textTurn(ctx context.Context, messages *[]Message, in TurnInput) string {
	*messages = append(*messages, Text(RoleUser, in.Text))

	if ok, n := s.budget.WithinCallLimit(*messages); !ok {
		// advisory only: log and proceed without truncation
		logger.L().Warn("message list exceeds pre-call ceiling",
			zap.Int("tokens", n), zap.Int("limit", MaxTokens-MaxResponseTokens))
	}

	wire := toWire(Sanitize(*messages))
	reply, _, _ := s.gateway.Complete(ctx, wire)
	return reply
}

func (s *Service) visionTurn(ctx context.Context, messages *[]Message, in TurnInput) string {
	parts := []Part{}
	if in.Text != "" {
		parts = append(parts, Part{Type: "text", Text: in.Text})
	}
	parts = append(parts, Part{
		Type:     "image_url",
		ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + in.Image},
	})
	*messages = append(*messages, Message{Role: RoleUser, Parts: parts})

	return s.gateway.CompleteVision(ctx, in.Image, in.Text)
}

// rollover closes the current record with all turns and opens a fresh
// one titled with the current timestamp.
func (s *Service) rollover(ctx context.Context, in TurnInput, messages []Message, res *TurnResult) error {
	closed, err := s.saveOrCreate(ctx, in, messages)
	if err != nil {
		return err
	}
	res.ChatID = closed

	title := fmt.Sprintf("%s %s", NewChatTitle, time.Now().Format("01-02 15:04"))
	newID, err := s.store.Create(ctx, in.UserID, title, nil)
	if err != nil {
		return err
	}

	res.LimitReached = true
	res.NewChatID = newID
	res.SystemMessage = fmt.Sprintf("已达到会话token限制(%d)，本次对话已保存到历史记录。", UserMaxTokens)
	logger.L().Info("conversation rolled over",
		zap.Uint64("user_id", in.UserID),
		zap.Uint64("closed_chat_id", res.ChatID),
		zap.Uint64("new_chat_id", newID),
		zap.Int("total_tokens", res.TokenCount.Total))
	return nil
}

func (s *Service) persist(ctx context.Context, in TurnInput, messages []Message, res *TurnResult) error {
	id, err := s.saveOrCreate(ctx, in, messages)
	if err != nil {
		return err
	}
	res.ChatID = id
	return nil
}

// saveOrCreate writes the turn to its target record; a stale target is
// replaced by a fresh record instead of losing the turn.
func (s *Service) saveOrCreate(ctx context.Context, in TurnInput, messages []Message) (uint64, error) {
	id, err := s.store.Save(ctx, in.UserID, messages, in.ChatID)
	if errors.Is(err, ErrNotFound) {
		return s.store.Create(ctx, in.UserID, titleFrom(messages), messages)
	}
	return id, err
}

func toWire(messages []Message) []ai.Message {
	out := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// RestoreSession loads the user's most recent conversation into the live
// session, called on login.
func (s *Service) RestoreSession(ctx context.Context, userID uint64) {
	sess, err := s.store.Load(ctx, userID, 0)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.L().Warn("session restore failed",
				zap.Uint64("user_id", userID), zap.Error(err))
		}
		return
	}
	if err := s.live.Set(ctx, userID, sess.Messages); err != nil {
		logger.L().Warn("session restore write failed",
			zap.Uint64("user_id", userID), zap.Error(err))
	}
}

// FlushSession persists the live session to the user's latest record,
// called on logout. Best effort.
func (s *Service) FlushSession(ctx context.Context, userID uint64) {
	msgs, err := s.live.Get(ctx, userID)
	if err != nil || len(msgs) == 0 {
		return
	}
	if _, err := s.store.Save(ctx, userID, msgs, 0); err != nil {
		logger.L().Error("session flush failed",
			zap.Uint64("user_id", userID), zap.Error(err))
	}
}

// ClearSession drops the live session.
func (s *Service) ClearSession(ctx context.Context, userID uint64) error {
	return s.live.Clear(ctx, userID)
}

// CurrentHistory returns the live session with image payloads masked and
// totals recomputed.
func (s *Service) CurrentHistory(ctx context.Context, userID uint64) ([]Message, TokenCount, error) {
	msgs, err := s.live.Get(ctx, userID)
	if err != nil {
		return nil, TokenCount{}, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return MaskImages(msgs), s.budget.Totals(msgs), nil
}

// LoadChat reads a stored conversation with masking and recomputed
// totals; used by the history read endpoints.
func (s *Service) LoadChat(ctx context.Context, userID, chatID uint64) ([]Message, TokenCount, error) {
	sess, err := s.store.Load(ctx, userID, chatID)
	if err != nil {
		return nil, TokenCount{}, err
	}
	return MaskImages(sess.Messages), s.budget.Totals(sess.Messages), nil
}
