package mcpservice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// PolicyDocument is the YAML form of a tool policy:
//
//	consent:
//	  description_message: "..."
//	tools:
//	  record_unlink:
//	    active: false
//	    requires_consent: true
type PolicyDocument struct {
	Consent struct {
		DescriptionMessage string `yaml:"description_message"`
	} `yaml:"consent"`
	Tools map[string]ToolPolicy `yaml:"tools"`
}

// ToolPolicy overrides the defaults of one tool. Nil fields keep the default.
type ToolPolicy struct {
	Active          *bool `yaml:"active"`
	RequiresConsent *bool `yaml:"requires_consent"`
}

// ParsePolicy decodes a policy document, rejecting unknown keys.
func ParsePolicy(data []byte) (*PolicyDocument, error) {
	var doc PolicyDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse tool policy: %w", err)
	}
	return &doc, nil
}

// Policy is a Visibility and ConsentPolicy backed by a PolicyDocument that
// can be swapped atomically while requests are in flight.
type Policy struct {
	doc atomic.Pointer[PolicyDocument]
}

var (
	_ Visibility    = (*Policy)(nil)
	_ ConsentPolicy = (*Policy)(nil)
)

// NewPolicy returns a Policy that leaves every tool at its defaults.
func NewPolicy() *Policy {
	p := &Policy{}
	p.doc.Store(&PolicyDocument{})
	return p
}

// LoadPolicy reads and parses the policy file at path.
func LoadPolicy(path string) (*Policy, error) {
	p := NewPolicy()
	if err := p.LoadFile(path); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile replaces the current document with the contents of path. On
// error the current document is kept.
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tool policy: %w", err)
	}
	doc, err := ParsePolicy(data)
	if err != nil {
		return err
	}
	p.Replace(doc)
	return nil
}

// Replace installs doc as the current policy.
func (p *Policy) Replace(doc *PolicyDocument) {
	if doc == nil {
		doc = &PolicyDocument{}
	}
	p.doc.Store(doc)
}

// Document returns the current policy document. Callers must not modify it.
func (p *Policy) Document() *PolicyDocument { return p.doc.Load() }

func (p *Policy) IsActive(name string) bool {
	tp, ok := p.doc.Load().Tools[name]
	if !ok || tp.Active == nil {
		return true
	}
	return *tp.Active
}

func (p *Policy) ConsentRequired(name string, declared bool) bool {
	tp, ok := p.doc.Load().Tools[name]
	if !ok || tp.RequiresConsent == nil {
		return declared
	}
	return *tp.RequiresConsent
}

func (p *Policy) ConsentMessage() string {
	return p.doc.Load().Consent.DescriptionMessage
}
