package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/answerd/answerd/internal/rag"
)

// fakeModel implements CompletionModel for tests. It records the messages
// it received and answers with a canned reply.
type fakeModel struct {
	// reply is the content of the generated message.
	reply string
	// err is returned instead of a reply when non-nil.
	err error
	// gotMessages holds the input of the last Generate call.
	gotMessages []*schema.Message
	// calls counts Generate invocations.
	calls int
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.gotMessages = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

// fakeRetriever implements rag.Retriever for tests.
type fakeRetriever struct {
	docs  []rag.Document
	err   error
	calls int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) ([]rag.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func newTestDispatcher(t *testing.T, m CompletionModel, r rag.Retriever, topK int) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(m, r, topK)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestAnswer_EmptyMessage(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "should not be called"}
	r := &fakeRetriever{}
	d := newTestDispatcher(t, m, r, 0)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := d.Answer(context.Background(), msg)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("message %q: want ErrValidation, got %v", msg, err)
		}
	}
	// Validation must reject before any external call.
	if r.calls != 0 {
		t.Errorf("retriever called %d times for invalid input, want 0", r.calls)
	}
	if m.calls != 0 {
		t.Errorf("model called %d times for invalid input, want 0", m.calls)
	}
}

// TestAnswer_GroundedPrompt verifies the two-message shape: one system
// message carrying the assembled context, one user message carrying the
// raw query.
func TestAnswer_GroundedPrompt(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "Refunds take 14 days."}
	r := &fakeRetriever{docs: []rag.Document{
		{Content: "Refunds are processed within 14 days.", Score: 0.9},
		{Content: "Contact support for disputes.", Score: 0.3},
	}}
	d := newTestDispatcher(t, m, r, 2)

	answer, err := d.Answer(context.Background(), "What is the refund policy?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != "Refunds take 14 days." {
		t.Errorf("answer: got %q", answer)
	}

	if len(m.gotMessages) != 2 {
		t.Fatalf("want exactly 2 messages, got %d", len(m.gotMessages))
	}
	sys, user := m.gotMessages[0], m.gotMessages[1]
	if sys.Role != schema.System {
		t.Errorf("first message role: want system, got %s", sys.Role)
	}
	if !strings.Contains(sys.Content, "Refunds are processed within 14 days.\n\nContact support for disputes.") {
		t.Errorf("system message missing assembled context, got: %s", sys.Content)
	}
	if user.Role != schema.User {
		t.Errorf("second message role: want user, got %s", user.Role)
	}
	if user.Content != "What is the refund policy?" {
		t.Errorf("user message must carry the raw query, got %q", user.Content)
	}
}

// TestAnswer_NoRetriever verifies the dispatcher still answers with an
// empty context when no retriever is configured.
func TestAnswer_NoRetriever(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "un-grounded answer"}
	d := newTestDispatcher(t, m, nil, 0)

	answer, err := d.Answer(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != "un-grounded answer" {
		t.Errorf("answer: got %q", answer)
	}
	if len(m.gotMessages) != 2 {
		t.Fatalf("want 2 messages even without grounding, got %d", len(m.gotMessages))
	}
}

// TestAnswer_RetrievalDegrades verifies that an unavailable index is
// absorbed: the request proceeds with an empty context and the caller never
// sees rag.ErrRetrieval.
func TestAnswer_RetrievalDegrades(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "best effort"}
	r := &fakeRetriever{err: fmt.Errorf("rag: %w: index down", rag.ErrRetrieval)}
	d := newTestDispatcher(t, m, r, DefaultTopK)

	answer, err := d.Answer(context.Background(), "query")
	if err != nil {
		t.Fatalf("retrieval failure must degrade, got error: %v", err)
	}
	if answer != "best effort" {
		t.Errorf("answer: got %q", answer)
	}
}

// TestAnswer_EmbeddingFatal verifies the asymmetry: embedding failures
// propagate instead of degrading.
func TestAnswer_EmbeddingFatal(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "unreachable"}
	r := &fakeRetriever{err: fmt.Errorf("rag: %w: bad input", rag.ErrEmbedding)}
	d := newTestDispatcher(t, m, r, DefaultTopK)

	_, err := d.Answer(context.Background(), "query")
	if !errors.Is(err, rag.ErrEmbedding) {
		t.Fatalf("want ErrEmbedding to propagate, got %v", err)
	}
	if m.calls != 0 {
		t.Errorf("model called %d times after embedding failure, want 0", m.calls)
	}
}

func TestAnswer_CompletionFailure(t *testing.T) {
	t.Parallel()

	m := &fakeModel{err: errors.New("rate limited")}
	d := newTestDispatcher(t, m, &fakeRetriever{}, DefaultTopK)

	_, err := d.Answer(context.Background(), "query")
	if !errors.Is(err, ErrCompletion) {
		t.Fatalf("want ErrCompletion, got %v", err)
	}
}

// TestAnswer_ZeroTopKSkipsRetrieval verifies that a topK of zero or below
// disables retrieval without disabling answers: no retriever call is made
// and the system prompt carries an empty context.
func TestAnswer_ZeroTopKSkipsRetrieval(t *testing.T) {
	t.Parallel()

	for _, topK := range []int{0, -1} {
		m := &fakeModel{reply: "ok"}
		r := &fakeRetriever{docs: []rag.Document{{Content: "should not appear"}}}
		d := newTestDispatcher(t, m, r, topK)

		if _, err := d.Answer(context.Background(), "query"); err != nil {
			t.Fatalf("topK %d: Answer: %v", topK, err)
		}
		if r.calls != 0 {
			t.Errorf("topK %d: retriever called %d times with retrieval disabled, want 0", topK, r.calls)
		}
		if strings.Contains(m.gotMessages[0].Content, "should not appear") {
			t.Errorf("topK %d: system prompt must not contain retrieved content", topK)
		}
	}
}
