package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type byteCounter struct{}

func (byteCounter) Count(text string) int { return len(text) }

func newTestGateway(url string) *Gateway {
	return NewGateway(url, "test-key", "test-chat", "test-vision", byteCounter{})
}

func completionBody(reply string) string {
	return `{"choices":[{"message":{"content":"` + reply + `"}}]}`
}

func TestCompleteSuccess(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(completionBody(`  an answer \n`)))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	reply, userTokens, assistantTokens := g.Complete(context.Background(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "earlier"},
		{Role: "user", Content: "more"},
	})

	if reply != "an answer" {
		t.Errorf("reply = %q (whitespace not trimmed?)", reply)
	}
	if userTokens != len("hello")+len("more") {
		t.Errorf("user tokens = %d", userTokens)
	}
	if assistantTokens != len("earlier")+len("an answer") {
		t.Errorf("assistant tokens = %d", assistantTokens)
	}

	if got.Model != "test-chat" {
		t.Errorf("model = %q", got.Model)
	}
	if got.MaxTokens != 500 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
	if len(got.Messages) != 3 {
		t.Errorf("sent %d messages", len(got.Messages))
	}
}

func TestCompleteEmptyHistoryGetsGreeting(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(completionBody("hi")))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	if reply, _, _ := g.Complete(context.Background(), nil); reply != "hi" {
		t.Fatalf("reply = %q", reply)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "system" {
		t.Fatalf("greeting not injected: %+v", got.Messages)
	}
	if got.Messages[0].Content != DefaultGreeting {
		t.Fatalf("greeting content = %v", got.Messages[0].Content)
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(completionBody("late")))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	g.TextTimeout = 30 * time.Millisecond

	reply, userTokens, assistantTokens := g.Complete(context.Background(), []Message{
		{Role: "user", Content: "hello"},
	})
	if reply != "API请求超时，请稍后重试" {
		t.Errorf("reply = %q", reply)
	}
	// usage seen so far still comes back with the failure reply
	if userTokens != len("hello") || assistantTokens != 0 {
		t.Errorf("tokens = %d/%d", userTokens, assistantTokens)
	}
}

func TestCompleteConnectionRefused(t *testing.T) {
	// a closed local port; the dial fails immediately
	g := newTestGateway("http://127.0.0.1:1")
	reply, _, _ := g.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if reply != "连接API服务器失败，请检查网络" {
		t.Errorf("reply = %q", reply)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	reply, _, _ := g.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !strings.HasPrefix(reply, "API调用失败:") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(reply, "quota exceeded") {
		t.Errorf("upstream detail lost: %q", reply)
	}
}

func TestCompleteErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[],"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	reply, _, _ := g.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if reply != "API调用失败: model overloaded" {
		t.Errorf("reply = %q", reply)
	}
}

func TestCompleteVision(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(completionBody("一只猫")))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	reply := g.CompleteVision(context.Background(), "aW1hZ2U=", "")
	if reply != "一只猫" {
		t.Errorf("reply = %q", reply)
	}

	if raw["model"] != "test-vision" {
		t.Errorf("model = %v", raw["model"])
	}
	msgs := raw["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("sent %d parts", len(parts))
	}
	text := parts[0].(map[string]any)
	if text["text"] != "这张图片里面有什么" {
		t.Errorf("default prompt = %v", text["text"])
	}
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	if image["url"] != "data:image/jpeg;base64,aW1hZ2U=" {
		t.Errorf("image url = %v", image["url"])
	}
}

func TestCompleteVisionWithoutKey(t *testing.T) {
	g := NewGateway("http://127.0.0.1:1", "", "c", "v", byteCounter{})
	if reply := g.CompleteVision(context.Background(), "aW1hZ2U=", "prompt"); reply != "系统配置错误: API密钥未设置" {
		t.Errorf("reply = %q", reply)
	}
}

func TestCompleteVisionFailureDegrades(t *testing.T) {
	g := newTestGateway("http://127.0.0.1:1")
	reply := g.CompleteVision(context.Background(), "aW1hZ2U=", "prompt")
	if !strings.HasPrefix(reply, "处理图片时发生错误:") {
		t.Errorf("reply = %q", reply)
	}
}
