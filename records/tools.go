package records

import (
	"context"

	"github.com/ggoodman/mcp-toolhost/mcpservice"
)

type searchArgs struct {
	Model           string         `json:"model" jsonschema:"description=Model name such as res.partner"`
	IncludeInactive bool           `json:"include_inactive,omitempty" jsonschema:"description=Also return deactivated records"`
	Filter          map[string]any `json:"filter,omitempty" jsonschema:"description=Field values a record must equal"`
	Limit           int            `json:"limit,omitempty" jsonschema:"minimum=1,maximum=200,description=Maximum number of records"`
	Fields          []string       `json:"fields,omitempty" jsonschema:"uniqueItems=true,description=Only return these fields of each record"`
}

type searchResult struct {
	Count   int       `json:"count"`
	Records []*Record `json:"records"`
}

type refArgs struct {
	Model string `json:"model" jsonschema:"description=Model name"`
	ID    string `json:"id" jsonschema:"description=Record identifier"`
}

type createArgs struct {
	Model  string         `json:"model" jsonschema:"description=Model name"`
	Fields map[string]any `json:"fields" jsonschema:"description=Initial field values"`
}

type updateArgs struct {
	Model  string         `json:"model" jsonschema:"description=Model name"`
	ID     string         `json:"id" jsonschema:"description=Record identifier"`
	Fields map[string]any `json:"fields,omitempty" jsonschema:"description=Fields to merge; null removes a field"`
	Active *bool          `json:"active,omitempty" jsonschema:"description=Activate or deactivate the record"`
}

type unlinkResult struct {
	Deleted bool   `json:"deleted"`
	Model   string `json:"model"`
	ID      string `json:"id"`
}

// project returns a copy of rec carrying only the named fields. Names the
// record does not have are skipped.
func project(rec *Record, names []string) *Record {
	out := *rec
	out.Fields = make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := rec.Fields[name]; ok {
			out.Fields[name] = v
		}
	}
	return &out
}

// Tools returns the record tools backed by s. Every tool acts on the
// records of the calling principal only.
func Tools(s *Store) []mcpservice.Tool {
	return []mcpservice.Tool{
		mcpservice.NewTool("record_search",
			func(ctx context.Context, call *mcpservice.ToolCall, a searchArgs) (any, error) {
				recs, err := s.Search(ctx, call.Principal.UserID, Query{
					Model:           a.Model,
					IncludeInactive: a.IncludeInactive,
					Filter:          a.Filter,
					Limit:           a.Limit,
				})
				if err != nil {
					return nil, err
				}
				if recs == nil {
					recs = []*Record{}
				}
				if len(a.Fields) > 0 {
					for i, rec := range recs {
						recs[i] = project(rec, a.Fields)
					}
				}
				return searchResult{Count: len(recs), Records: recs}, nil
			},
			mcpservice.WithTitle("Search records"),
			mcpservice.WithDescription("Search the caller's records of a model. Deactivated records are skipped unless include_inactive is set."),
			mcpservice.WithReadOnly(),
			mcpservice.WithIdempotent(),
			mcpservice.WithOpenWorld(false),
		),
		mcpservice.NewTool("record_get",
			func(ctx context.Context, call *mcpservice.ToolCall, a refArgs) (any, error) {
				return s.Get(ctx, call.Principal.UserID, a.Model, a.ID)
			},
			mcpservice.WithTitle("Read record"),
			mcpservice.WithDescription("Read a single record by model and id."),
			mcpservice.WithReadOnly(),
			mcpservice.WithIdempotent(),
			mcpservice.WithOpenWorld(false),
		),
		mcpservice.NewTool("record_create",
			func(ctx context.Context, call *mcpservice.ToolCall, a createArgs) (any, error) {
				return s.Create(ctx, call.Principal.UserID, a.Model, a.Fields)
			},
			mcpservice.WithTitle("Create record"),
			mcpservice.WithDescription("Create a new active record."),
			mcpservice.WithDestructive(false),
			mcpservice.WithOpenWorld(false),
		),
		mcpservice.NewTool("record_update",
			func(ctx context.Context, call *mcpservice.ToolCall, a updateArgs) (any, error) {
				return s.Update(ctx, call.Principal.UserID, a.Model, a.ID, a.Fields, a.Active)
			},
			mcpservice.WithTitle("Update record"),
			mcpservice.WithDescription("Merge field values into a record, or toggle its active flag."),
			mcpservice.WithDestructive(true),
			mcpservice.WithIdempotent(),
			mcpservice.WithOpenWorld(false),
		),
		mcpservice.NewTool("record_unlink",
			func(ctx context.Context, call *mcpservice.ToolCall, a refArgs) (any, error) {
				if err := s.Unlink(ctx, call.Principal.UserID, a.Model, a.ID); err != nil {
					return nil, err
				}
				return unlinkResult{Deleted: true, Model: a.Model, ID: a.ID}, nil
			},
			mcpservice.WithTitle("Delete record"),
			mcpservice.WithDescription("Permanently delete a record. Prefer record_update with active=false to hide it instead."),
			mcpservice.WithDestructive(true),
			mcpservice.WithOpenWorld(false),
			mcpservice.WithConsent(),
		),
	}
}
