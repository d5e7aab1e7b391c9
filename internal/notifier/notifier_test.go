package notifier

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/outage-watch/internal/config"
	"github.com/miradorstack/outage-watch/internal/models"
)

func change(service string, kind models.ChangeKind, status models.Status, reports int) models.ChangeEvent {
	return models.NewChangeEvent(kind, nil, models.Snapshot{
		ServiceID:   service,
		Status:      status,
		ReportCount: reports,
		Severity:    models.SeverityForReports(reports),
	}, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
}

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestEmail(cfg config.EmailConfig, fail map[string]bool) (*EmailNotifier, *[]sentMail) {
	n := NewEmailNotifier(cfg, nil)
	var sent []sentMail
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		for service := range fail {
			if strings.Contains(string(msg), "Subject: [ALERT] "+service) {
				return errors.New("smtp 550")
			}
		}
		sent = append(sent, sentMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	}
	return n, &sent
}

func TestEmailGroupsByService(t *testing.T) {
	cfg := config.EmailConfig{Host: "smtp.example.com", Port: 587, Sender: "bot@example.com", Recipients: []string{"ops@example.com"}}
	n, sent := newTestEmail(cfg, nil)

	changes := []models.ChangeEvent{
		change("Google", models.ChangeNewOutage, models.StatusDown, 15000),
		change("Slack", models.ChangeStatusChanged, models.StatusIssues, 200),
		change("Google", models.ChangeReportCountSpike, models.StatusDown, 16000),
	}
	if err := n.Notify(context.Background(), changes, "Narrative <b>text</b>"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*sent) != 2 {
		t.Fatalf("expected one email per service, got %d", len(*sent))
	}
	first := (*sent)[0]
	if first.addr != "smtp.example.com:587" || first.from != "bot@example.com" {
		t.Fatalf("unexpected envelope: %+v", first)
	}
	if first.auth != nil {
		t.Fatalf("expected no auth without credentials")
	}
	if !strings.Contains(first.msg, "Subject: [ALERT] Google is experiencing issues") {
		t.Fatalf("unexpected subject in %q", first.msg)
	}
	if !strings.Contains(first.msg, "Report Count Spike") || !strings.Contains(first.msg, "New Outage") {
		t.Fatalf("expected both Google changes in one message")
	}
	if !strings.Contains(first.msg, "Narrative &lt;b&gt;text&lt;/b&gt;") {
		t.Fatalf("expected escaped narrative in body")
	}
	if !strings.Contains((*sent)[1].msg, "Subject: [UPDATE] Slack status changed") {
		t.Fatalf("unexpected second subject")
	}
}

func TestEmailNoRecipients(t *testing.T) {
	n, _ := newTestEmail(config.EmailConfig{Host: "localhost", Port: 25}, nil)
	err := n.Notify(context.Background(), []models.ChangeEvent{change("Google", models.ChangeNewOutage, models.StatusDown, 10)}, "")
	var de *DeliveryError
	if !errors.As(err, &de) || !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected delivery error wrapping ErrNoRecipients, got %v", err)
	}
}

func TestEmailPartialFailureContinues(t *testing.T) {
	cfg := config.EmailConfig{Host: "localhost", Port: 25, Sender: "a@b", Recipients: []string{"c@d"}}
	n, sent := newTestEmail(cfg, map[string]bool{"Google": true})

	err := n.Notify(context.Background(), []models.ChangeEvent{
		change("Google", models.ChangeNewOutage, models.StatusDown, 10),
		change("Discord", models.ChangeNewOutage, models.StatusDown, 10),
	}, "")
	if err == nil || !strings.Contains(err.Error(), "Google") {
		t.Fatalf("expected Google failure, got %v", err)
	}
	if len(*sent) != 1 || !strings.Contains((*sent)[0].msg, "Discord") {
		t.Fatalf("expected Discord email despite Google failure")
	}
}

func TestEmailEmptyBatchIsNoop(t *testing.T) {
	n, sent := newTestEmail(config.EmailConfig{}, nil)
	if err := n.Notify(context.Background(), nil, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestSubjectFallback(t *testing.T) {
	if got := Subject("X", models.ChangeKind("other")); got != "[UPDATE] X status update" {
		t.Fatalf("unexpected fallback subject: %q", got)
	}
	if got := Subject("X", models.ChangeOutageResolved); got != "[RESOLVED] X issues resolved" {
		t.Fatalf("unexpected resolved subject: %q", got)
	}
}
