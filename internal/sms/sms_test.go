package sms

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tianyan-ai/chat-backend/internal/models"
)

func TestJobWireShape(t *testing.T) {
	b, err := json.Marshal(Job{Phone: "13812345678", Code: "123456", Type: models.CodeLogin})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"phone":"13812345678","code":"123456","type":"login"}`
	if string(b) != want {
		t.Fatalf("job json = %s", b)
	}

	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		t.Fatal(err)
	}
	if job.Phone != "13812345678" || job.Code != "123456" || job.Type != models.CodeLogin {
		t.Fatalf("round trip = %+v", job)
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{}).Send(context.Background(), "13812345678", "123456", models.CodeRegister); err != nil {
		t.Fatalf("log sender errored: %v", err)
	}
}
