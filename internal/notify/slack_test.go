package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMilestoneCompleted_PostsMessage(t *testing.T) {
	var gotURL, gotText string
	n := New("https://hooks.example.com/T123", zap.NewNop())
	n.post = func(url string, msg *slack.WebhookMessage) error {
		gotURL = url
		gotText = msg.Text
		return nil
	}

	done := date(2024, 1, 10)
	m := models.Milestone{Name: "beta", CompletionDate: &done, EndDate: done}
	next := models.Milestone{Name: "launch", EndDate: date(2024, 1, 13)}
	n.MilestoneCompleted(models.Timeline{Name: "release"}, m, &next)

	if gotURL != "https://hooks.example.com/T123" {
		t.Errorf("posted to %q", gotURL)
	}
	for _, want := range []string{"beta", "release", "2024-01-10", "launch", "2024-01-13"} {
		if !strings.Contains(gotText, want) {
			t.Errorf("message %q missing %q", gotText, want)
		}
	}
}

func TestMilestoneCompleted_NoSuccessor(t *testing.T) {
	var gotText string
	n := New("https://hooks.example.com/T123", zap.NewNop())
	n.post = func(url string, msg *slack.WebhookMessage) error {
		gotText = msg.Text
		return nil
	}

	m := models.Milestone{Name: "final", EndDate: date(2024, 1, 5)}
	n.MilestoneCompleted(models.Timeline{Name: "wrap"}, m, nil)

	if strings.Contains(gotText, "Up next") {
		t.Errorf("message %q should not announce a successor", gotText)
	}
	// Without a completion date the scheduled end is used.
	if !strings.Contains(gotText, "2024-01-05") {
		t.Errorf("message %q missing fallback date", gotText)
	}
}

func TestMilestoneCompleted_DisabledWithoutWebhook(t *testing.T) {
	called := false
	n := New("", zap.NewNop())
	n.post = func(url string, msg *slack.WebhookMessage) error {
		called = true
		return nil
	}
	n.MilestoneCompleted(models.Timeline{}, models.Milestone{}, nil)
	if called {
		t.Error("disabled notifier must not post")
	}
}

func TestMilestoneCompleted_DeliveryFailureIsSwallowed(t *testing.T) {
	n := New("https://hooks.example.com/T123", zap.NewNop())
	n.post = func(url string, msg *slack.WebhookMessage) error {
		return errors.New("rate limited")
	}
	// Must not panic or propagate.
	n.MilestoneCompleted(models.Timeline{Name: "x"}, models.Milestone{Name: "y"}, nil)
}
