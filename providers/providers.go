// Package providers defines the LLM provider abstraction and a registry that
// resolves providers by identifier once at configuration time.
package providers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrDuplicateProvider is returned by NewRegistry when two providers share an ID.
	ErrDuplicateProvider = errors.New("providers: duplicate provider id")
	// ErrUnknownProvider is returned by Registry.Get for an unregistered ID.
	ErrUnknownProvider = errors.New("providers: unknown provider")
	// ErrEmptyConversation is returned when a chat request has no messages.
	ErrEmptyConversation = errors.New("providers: no messages")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role" jsonschema:"enum=system,enum=user,enum=assistant"`
	Content string `json:"content"`
}

// ChatRequest asks a provider for the next assistant message.
type ChatRequest struct {
	Model    string
	Messages []Message
}

// ChatResponse is a provider's answer.
type ChatResponse struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Content  string `json:"content"`
}

// Provider is implemented once per LLM vendor.
type Provider interface {
	ID() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Registry maps provider IDs to providers. It is immutable after
// construction.
type Registry struct {
	byID map[string]Provider
	ids  []string
}

// NewRegistry indexes providers by ID.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{byID: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		id := p.ID()
		if strings.TrimSpace(id) == "" {
			return nil, errors.New("providers: empty provider id")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
		}
		r.byID[id] = p
		r.ids = append(r.ids, id)
	}
	slices.Sort(r.ids)
	return r, nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownProvider, id, strings.Join(r.ids, ", "))
	}
	return p, nil
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []string { return slices.Clone(r.ids) }

// Echo answers with the content of the last user message. It needs no
// network access and backs tests and demos.
type Echo struct{}

const echoDefaultModel = "echo-1"

func (Echo) ID() string { return "echo" }

func (Echo) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = echoDefaultModel
	}
	content := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			content = req.Messages[i].Content
			break
		}
	}
	return &ChatResponse{Provider: "echo", Model: model, Content: content}, nil
}
