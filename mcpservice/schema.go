package mcpservice

import (
	"encoding/json"

	"github.com/ggoodman/mcp-toolhost/mcp"
	"github.com/invopop/jsonschema"
)

// reflectInputSchema reflects a Go type A into a jsonschema.Schema and
// converts it to the simplified mcp.ToolInputSchema. Non-object types yield
// an empty object schema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	out := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]mcp.SchemaProperty{},
	}
	if !allowAdditional {
		out.AdditionalProperties = ptr(false)
	}
	if s == nil || s.Type != "object" {
		return out
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = toMCPProperty(el.Value)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	return out
}

// toMCPProperty recursively maps a jsonschema.Schema to the MCP SchemaProperty.
// Every validation keyword the reflector can emit must survive the mapping:
// the result is also what arguments are validated against.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:             s.Type,
		Description:      s.Description,
		Minimum:          number(s.Minimum),
		Maximum:          number(s.Maximum),
		ExclusiveMinimum: number(s.ExclusiveMinimum),
		ExclusiveMaximum: number(s.ExclusiveMaximum),
		MultipleOf:       number(s.MultipleOf),
		MinLength:        count(s.MinLength),
		MaxLength:        count(s.MaxLength),
		Pattern:          s.Pattern,
		Format:           s.Format,
		MinItems:         count(s.MinItems),
		MaxItems:         count(s.MaxItems),
		UniqueItems:      s.UniqueItems,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	for _, sub := range s.AnyOf {
		p.AnyOf = append(p.AnyOf, toMCPProperty(sub))
	}
	for _, sub := range s.OneOf {
		p.OneOf = append(p.OneOf, toMCPProperty(sub))
	}
	// Arrays
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	// Objects
	if s.Type == "object" {
		if s.Properties != nil {
			m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
			for el := s.Properties.Oldest(); el != nil; el = el.Next() {
				m[el.Key] = toMCPProperty(el.Value)
			}
			p.Properties = m
		}
		if len(s.Required) > 0 {
			p.Required = append([]string(nil), s.Required...)
		}
		if s.AdditionalProperties == jsonschema.FalseSchema {
			p.AdditionalProperties = ptr(false)
		}
	}
	return p
}

func count(n *uint64) *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

func number(n json.Number) *float64 {
	if n == "" {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}
