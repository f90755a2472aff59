package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/timeline-harvester/internal/report"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", report.Summary{RunID: "r1", Query: "golang", State: "FINISHED"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-a" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	if msgs[0].Attributes["state"] != "FINISHED" {
		t.Fatalf("expected summary attributes, got %+v", msgs[0].Attributes)
	}
	var got report.Summary
	if err := msgs[0].Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.RunID != "r1" || got.Query != "golang" {
		t.Fatalf("unexpected decoded summary %+v", got)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), "t", func() {}); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(New().Messages()) != 0 {
		t.Fatal("expected no messages")
	}
}
