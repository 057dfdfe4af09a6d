package providers

import (
	"context"

	"github.com/ggoodman/mcp-toolhost/mcpservice"
)

type generateArgs struct {
	Provider string    `json:"provider" jsonschema:"description=Provider identifier"`
	Model    string    `json:"model,omitempty" jsonschema:"description=Model name; provider default when omitted"`
	Messages []Message `json:"messages" jsonschema:"minItems=1,description=Conversation so far"`
}

// Tool exposes the registry as the llm_generate tool.
func Tool(reg *Registry) mcpservice.Tool {
	return mcpservice.NewTool("llm_generate",
		func(ctx context.Context, call *mcpservice.ToolCall, a generateArgs) (any, error) {
			p, err := reg.Get(a.Provider)
			if err != nil {
				return nil, err
			}
			return p.Chat(ctx, ChatRequest{Model: a.Model, Messages: a.Messages})
		},
		mcpservice.WithTitle("Generate with LLM"),
		mcpservice.WithDescription("Ask a configured language model provider for the next assistant message."),
		mcpservice.WithReadOnly(),
		mcpservice.WithOpenWorld(true),
	)
}
