package strategy

import (
	"context"
	"testing"

	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/transport"
)

type fakeMediaLister struct {
	media []catalogstore.Media
}

func (f fakeMediaLister) ListMedia(context.Context, string, int, int) ([]catalogstore.Media, error) {
	return f.media, nil
}

type fakeTransport struct {
	groupCalls   int
	messageCalls int
	failGroup    bool
	failMessage  bool
}

func (f *fakeTransport) SendMediaGroup(context.Context, string, []transport.MediaItem) ([]string, error) {
	f.groupCalls++
	if f.failGroup {
		return nil, errFake
	}
	return []string{"group-1"}, nil
}

func (f *fakeTransport) SendMessage(context.Context, string, string, *transport.Action) (string, error) {
	f.messageCalls++
	if f.failMessage {
		return "", errFake
	}
	return "msg-1", nil
}

var errFake = fakeErr("boom")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func titlePtr(s string) *string { return &s }

func TestRenderS1WithMediaSendsGroupAndCTA(t *testing.T) {
	media := fakeMediaLister{media: []catalogstore.Media{{SourceURL: "i1"}}}
	tx := &fakeTransport{}
	r := New(media, tx)

	ids, used, err := r.Render(context.Background(), S1, "chat-1", 1,
		ProductSummary{ProductKey: "42", URL: "u", Title: titlePtr("T")}, ChangeDescriptor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != S1 {
		t.Fatalf("expected S1, got %s", used)
	}
	if len(ids) != 2 {
		t.Fatalf("expected group + CTA message ids, got %d", len(ids))
	}
	if tx.groupCalls != 1 || tx.messageCalls != 1 {
		t.Fatalf("expected one group call and one message call, got %d/%d", tx.groupCalls, tx.messageCalls)
	}
}

func TestRenderS1DegradesToS2WhenNoMedia(t *testing.T) {
	media := fakeMediaLister{}
	tx := &fakeTransport{}
	r := New(media, tx)

	ids, used, err := r.Render(context.Background(), S1, "chat-1", 1,
		ProductSummary{ProductKey: "42", URL: "u", Title: titlePtr("T")}, ChangeDescriptor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != S2 {
		t.Fatalf("expected degradation to S2, got %s", used)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one message id, got %d", len(ids))
	}
	if tx.groupCalls != 0 {
		t.Fatalf("expected no media group call on degradation, got %d", tx.groupCalls)
	}
}

func TestRenderS2SendsSingleMessage(t *testing.T) {
	tx := &fakeTransport{}
	r := New(fakeMediaLister{}, tx)

	ids, used, err := r.Render(context.Background(), S2, "chat-1", 1,
		ProductSummary{ProductKey: "42", URL: "u", Title: titlePtr("T")}, ChangeDescriptor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != S2 || len(ids) != 1 {
		t.Fatalf("expected a single S2 message, got used=%s ids=%v", used, ids)
	}
}

func TestRenderS3IncludesDiffLineAndMediaWhenPresent(t *testing.T) {
	media := fakeMediaLister{media: []catalogstore.Media{{SourceURL: "i1"}}}
	tx := &fakeTransport{}
	r := New(media, tx)

	ids, used, err := r.Render(context.Background(), S3, "chat-1", 2,
		ProductSummary{ProductKey: "42", URL: "u", Title: titlePtr("T")},
		ChangeDescriptor{ChangedFields: []string{"title"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != S3 {
		t.Fatalf("expected S3, got %s", used)
	}
	if len(ids) != 2 {
		t.Fatalf("expected diff message + media group ids, got %d", len(ids))
	}
}

func TestRenderPropagatesTransportFailureAsTransportError(t *testing.T) {
	tx := &fakeTransport{failMessage: true}
	r := New(fakeMediaLister{}, tx)

	_, _, err := r.Render(context.Background(), S2, "chat-1", 1,
		ProductSummary{ProductKey: "42", URL: "u"}, ChangeDescriptor{})
	if err == nil {
		t.Fatal("expected an error from a failing transport")
	}
}
