package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/outage-watch/internal/models"
)

type fakePublisher struct {
	subject  string
	payload  []byte
	pubErr   error
	flushErr error
	closed   bool
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.payload = data
	return f.pubErr
}

func (f *fakePublisher) FlushTimeout(time.Duration) error { return f.flushErr }

func (f *fakePublisher) Close() { f.closed = true }

func TestNATSNotifierPublishesBatch(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATSNotifier(pub, "outage-watch.changes", time.Second, nil)

	changes := []models.ChangeEvent{change("Google", models.ChangeNewOutage, models.StatusDown, 15000)}
	if err := n.Notify(context.Background(), changes, "summary"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if pub.subject != "outage-watch.changes" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var batch Batch
	if err := json.Unmarshal(pub.payload, &batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if batch.Count != 1 || batch.Narrative != "summary" || batch.Changes[0].ServiceID != "Google" || batch.ID == "" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestNATSNotifierFlushFailure(t *testing.T) {
	pub := &fakePublisher{flushErr: errors.New("timeout")}
	n := newNATSNotifier(pub, "s", time.Second, nil)
	err := n.Notify(context.Background(), []models.ChangeEvent{change("A", models.ChangeNewOutage, models.StatusDown, 1)}, "")
	var de *DeliveryError
	if !errors.As(err, &de) || de.Notifier != "nats" {
		t.Fatalf("expected nats delivery error, got %v", err)
	}
}

func TestNATSNotifierEmptyBatch(t *testing.T) {
	pub := &fakePublisher{}
	n := newNATSNotifier(pub, "s", time.Second, nil)
	if err := n.Notify(context.Background(), nil, ""); err != nil || pub.payload != nil {
		t.Fatalf("expected no publish for empty batch")
	}
	_ = n.Close()
	if !pub.closed {
		t.Fatalf("expected close to reach connection")
	}
}
