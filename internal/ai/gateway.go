// Package ai is the client for the external OpenAI-compatible completion
// service. Failures never escape as errors on the chat path: they are
// classified and degraded into user-visible reply strings.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/logger"
)

// Counter is the token-counting dependency; satisfied by token.Counter.
type Counter interface {
	Count(text string) int
}

const (
	DefaultGreeting = "你好，我是天衍智能助手，请问有什么可以帮助你的？"

	maxResponseTokens = 500
	textTimeout       = 30 * time.Second
	visionTimeout     = 60 * time.Second
)

// Message is one wire message. Content is a string for text chat and a
// part list for vision requests.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type TextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ImagePart struct {
	Type     string   `json:"type"`
	ImageURL ImageRef `json:"image_url"`
}

type ImageRef struct {
	URL string `json:"url"`
}

type Gateway struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	VisionModel string
	Client      *http.Client

	// overridable for tests; zero values fall back to the constants
	TextTimeout   time.Duration
	VisionTimeout time.Duration

	counter Counter
}

func NewGateway(baseURL, apiKey, chatModel, visionModel string, counter Counter) *Gateway {
	if baseURL == "" {
		baseURL = "https://api.openai-hk.com/v1"
	}
	if chatModel == "" {
		chatModel = "gpt-3.5-turbo"
	}
	if visionModel == "" {
		visionModel = "gpt-4o"
	}
	return &Gateway{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		ChatModel:   chatModel,
		VisionModel: visionModel,
		Client:      &http.Client{},
		counter:     counter,
	}
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a text conversation upstream and returns the reply with
// token usage. Any failure comes back as a synthetic reply string
// together with the counts computed up to that point; err is always nil
// on this path by contract.
func (g *Gateway) Complete(ctx context.Context, messages []Message) (reply string, userTokens, assistantTokens int) {
	if len(messages) == 0 {
		messages = []Message{{Role: "system", Content: DefaultGreeting}}
	}

	// history accounting before the call, so failure replies still carry
	// the usage seen so far
	for _, m := range messages {
		text, ok := m.Content.(string)
		if !ok {
			continue
		}
		switch m.Role {
		case "user":
			userTokens += g.counter.Count(text)
		case "assistant":
			assistantTokens += g.counter.Count(text)
		}
	}

	timeout := g.TextTimeout
	if timeout <= 0 {
		timeout = textTimeout
	}

	start := time.Now()
	answer, err := g.call(ctx, g.ChatModel, messages, timeout)
	if err != nil {
		logger.L().Error("completion call failed", zap.Error(err))
		return classify(err), userTokens, 0
	}
	logger.L().Info("completion call finished",
		zap.Duration("cost", time.Since(start)),
		zap.Int("messages", len(messages)))

	answer = strings.TrimSpace(answer)
	assistantTokens += g.counter.Count(answer)
	return answer, userTokens, assistantTokens
}

// CompleteVision sends one user message holding a prompt and a base64
// JPEG data URL. Failures degrade to reply strings like Complete.
func (g *Gateway) CompleteVision(ctx context.Context, base64Image, prompt string) string {
	if prompt == "" {
		prompt = "这张图片里面有什么"
	}
	if strings.TrimSpace(g.APIKey) == "" {
		logger.L().Error("vision call without api key")
		return "系统配置错误: API密钥未设置"
	}

	messages := []Message{{
		Role: "user",
		Content: []any{
			TextPart{Type: "text", Text: prompt},
			ImagePart{Type: "image_url", ImageURL: ImageRef{
				URL: "data:image/jpeg;base64," + base64Image,
			}},
		},
	}}

	timeout := g.VisionTimeout
	if timeout <= 0 {
		timeout = visionTimeout
	}

	answer, err := g.call(ctx, g.VisionModel, messages, timeout)
	if err != nil {
		logger.L().Error("vision call failed", zap.Error(err))
		return fmt.Sprintf("处理图片时发生错误: %v", err)
	}
	return strings.TrimSpace(answer)
}

func (g *Gateway) call(ctx context.Context, model string, messages []Message, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxResponseTokens,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(g.BaseURL, "/"))
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	// single attempt, no retries
	resp, err := g.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("upstream: %s", msg)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("upstream: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// classify maps a transport failure onto the user-visible reply.
func classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "API请求超时，请稍后重试"
	case isConnectionError(err):
		return "连接API服务器失败，请检查网络"
	default:
		return fmt.Sprintf("API调用失败: %v", err)
	}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
