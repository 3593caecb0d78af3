package sms

import (
	"context"

	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/logger"
	"github.com/tianyan-ai/chat-backend/internal/models"
)

// LogSender writes the code to the log instead of texting it. Used in
// development and as the worker's default delivery backend until a real
// SMS provider is wired in.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phone, code string, codeType models.CodeType) error {
	logger.L().Info("sms code dispatched",
		zap.String("phone", phone),
		zap.String("code", code),
		zap.String("type", string(codeType)))
	return nil
}
