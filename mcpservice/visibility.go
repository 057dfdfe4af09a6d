package mcpservice

// Visibility decides whether a registered tool is active. Inactive tools are
// hidden from listings and cannot be called; they are never deleted.
type Visibility interface {
	IsActive(name string) bool
}

// ConsentPolicy is optionally implemented by a Visibility that also decides
// which tools need explicit user consent and how that is worded.
type ConsentPolicy interface {
	// ConsentRequired reports whether name needs consent. declared is the
	// tool's own RequiresConsent flag.
	ConsentRequired(name string, declared bool) bool
	// ConsentMessage returns the text appended to consent tools'
	// descriptions. An empty string falls back to the dispatcher default.
	ConsentMessage() string
}

type allActive struct{}

func (allActive) IsActive(string) bool { return true }

// AllActive treats every registered tool as active.
var AllActive Visibility = allActive{}

// StaticVisibility is a fixed set of deactivated tool names.
type StaticVisibility map[string]struct{}

// Deactivated returns a StaticVisibility hiding the named tools.
func Deactivated(names ...string) StaticVisibility {
	v := make(StaticVisibility, len(names))
	for _, n := range names {
		v[n] = struct{}{}
	}
	return v
}

func (v StaticVisibility) IsActive(name string) bool {
	_, off := v[name]
	return !off
}
