// Package chat implements the request dispatcher: the pipeline that turns a
// raw user message into a retrieval, an assembled grounding context, and a
// model completion. It is consumed synchronously by the HTTP handler and
// asynchronously by the job workers; the dispatcher itself holds no mutable
// state and is safe for concurrent use.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/answerd/answerd/internal/logging"
	"github.com/answerd/answerd/internal/rag"
)

// ErrValidation marks a rejected input. It is raised before any external
// call is made.
var ErrValidation = errors.New("invalid request")

// ErrCompletion marks a failure of the completion capability (rate limit,
// timeout, malformed response). Always fatal to the request; the dispatcher
// never retries — retry policy belongs to the caller.
var ErrCompletion = errors.New("completion failed")

// DefaultTopK is the number of documents retrieved per query when the
// caller does not configure one.
const DefaultTopK = 4

// systemPromptFormat is the system message template. The %s verb receives
// the assembled grounding context; with no retrieved documents the model is
// told the context is empty rather than being handed a dangling sentence.
const systemPromptFormat = `You are a helpful assistant that responds to the user's query.
You are given reference context in this system prompt; use it to ground your
answer. If the context is empty or irrelevant, answer from general knowledge.

Context:
%s`

// CompletionModel is the completion capability consumed by the dispatcher.
// Eino chat models satisfy it; tests inject a fake.
type CompletionModel interface {
	// Generate produces a completion for the given ordered messages.
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Dispatcher orchestrates retrieve → assemble → complete for one query.
type Dispatcher struct {
	// model is the completion backend.
	model CompletionModel

	// retriever fetches grounding documents. May be nil, in which case
	// every answer is un-grounded.
	retriever rag.Retriever

	// topK is the number of documents requested per query.
	topK int
}

// NewDispatcher constructs a Dispatcher. topK is taken literally: zero or
// below disables retrieval entirely, so every answer is un-grounded (used
// by deployments that run without an index). Callers that want a default
// for an unset value apply DefaultTopK themselves.
func NewDispatcher(m CompletionModel, retriever rag.Retriever, topK int) (*Dispatcher, error) {
	if m == nil {
		return nil, fmt.Errorf("chat: completion model must not be nil")
	}
	if topK < 0 {
		topK = 0
	}
	return &Dispatcher{model: m, retriever: retriever, topK: topK}, nil
}

// Answer runs the full pipeline for one query and returns the model's text
// output. Failure modes:
//
//   - empty message after trimming → error wrapping ErrValidation, before
//     any external call;
//   - embedding failure → error wrapping rag.ErrEmbedding (fatal: the query
//     itself may be malformed);
//   - search failure → absorbed; the request proceeds with an empty context
//     (grounding is best-effort, index unavailability is an infra hiccup);
//   - completion failure → error wrapping ErrCompletion.
func (d *Dispatcher) Answer(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("chat: %w: message must not be empty", ErrValidation)
	}

	grounding, err := d.retrieveContext(ctx, message)
	if err != nil {
		return "", err
	}

	// Exactly two messages per invocation: the system message carrying the
	// context and the human message carrying the raw query. No history.
	messages := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPromptFormat, grounding)),
		schema.UserMessage(message),
	}

	resp, err := d.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("chat: %w: %w", ErrCompletion, err)
	}
	if resp == nil {
		return "", fmt.Errorf("chat: %w: model returned nil response", ErrCompletion)
	}

	return resp.Content, nil
}

// retrieveContext fetches and assembles the grounding context for message.
// Search failures degrade to an empty context with a WARN log; embedding
// failures propagate untouched.
func (d *Dispatcher) retrieveContext(ctx context.Context, message string) (string, error) {
	if d.retriever == nil || d.topK == 0 {
		return "", nil
	}

	docs, err := d.retriever.Retrieve(ctx, message, d.topK)
	if err != nil {
		if errors.Is(err, rag.ErrRetrieval) {
			logging.FromContext(ctx).Warn("retrieval unavailable, answering without grounding",
				slog.Any("error", err),
			)
			return "", nil
		}
		return "", err
	}

	return rag.AssembleContext(docs), nil
}
