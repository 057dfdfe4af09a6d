// Package records stores schemaless business records per user and exposes
// them as MCP tools.
//
// A record belongs to a model (for example "res.partner") and carries a
// free-form field map. Records live in the caller's user namespace of a
// storage.Storage, so a tool invocation can only ever reach the records of
// the principal it runs as. Deactivated records are kept and hidden from
// searches by the Visible predicate unless explicitly requested.
package records

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/mcp-toolhost/storage"
	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned when no record has the given model and ID.
	ErrRecordNotFound = errors.New("records: record not found")
	// ErrInvalidModel is returned for empty model names or names containing ':'.
	ErrInvalidModel = errors.New("records: invalid model name")
	// ErrNoPrincipal is returned when an operation has no owning user.
	ErrNoPrincipal = errors.New("records: authenticated user required")
)

const (
	// DefaultSearchLimit applies when a search does not set a limit.
	DefaultSearchLimit = 50
	// MaxSearchLimit caps the number of records a search returns.
	MaxSearchLimit = 200
)

// Record is one stored business object.
type Record struct {
	Model     string         `json:"model"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Visible reports whether rec shows up in a search. It is the only place
// the active flag is interpreted.
func Visible(rec *Record, includeInactive bool) bool {
	return rec.Active || includeInactive
}

// Query selects records in Search.
type Query struct {
	Model           string
	IncludeInactive bool
	// Filter keeps records whose fields equal every given value.
	Filter map[string]any
	Limit  int
}

// Store persists records in a storage.Storage.
type Store struct {
	st    storage.Storage
	now   func() time.Time
	newID func() string
}

// NewStore returns a Store backed by st.
func NewStore(st storage.Storage) *Store {
	return &Store{st: st, now: time.Now, newID: uuid.NewString}
}

func recordKey(model, id string) string { return "record:" + model + ":" + id }

func checkScope(userID, model string) error {
	if userID == "" {
		return ErrNoPrincipal
	}
	if strings.TrimSpace(model) == "" || strings.Contains(model, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	return nil
}

// Create stores a new active record.
func (s *Store) Create(ctx context.Context, userID, model string, fields map[string]any) (*Record, error) {
	if err := checkScope(userID, model); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &Record{
		Model:     model,
		ID:        s.newID(),
		Fields:    maps.Clone(fields),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if err := s.put(ctx, userID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a record regardless of its active flag.
func (s *Store) Get(ctx context.Context, userID, model, id string) (*Record, error) {
	if err := checkScope(userID, model); err != nil {
		return nil, err
	}
	item, err := s.st.Get(ctx, recordKey(model, id), storage.WithUser(userID))
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, model, id)
	}
	var rec Record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Search returns the visible records of q.Model ordered by creation time.
func (s *Store) Search(ctx context.Context, userID string, q Query) ([]*Record, error) {
	if err := checkScope(userID, q.Model); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	keys, err := s.st.Keys(ctx, storage.WithUser(userID))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	prefix := recordKey(q.Model, "")
	var out []*Record
	for _, k := range keys {
		id, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		rec, err := s.Get(ctx, userID, q.Model, id)
		if errors.Is(err, ErrRecordNotFound) {
			continue // expired or removed since listing
		}
		if err != nil {
			return nil, err
		}
		if !Visible(rec, q.IncludeInactive) || !matches(rec, q.Filter) {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b *Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(rec *Record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := rec.Fields[k]
		if !ok {
			return false
		}
		wb, _ := json.Marshal(want)
		gb, _ := json.Marshal(got)
		if string(wb) != string(gb) {
			return false
		}
	}
	return true
}

// Update merges fields into the record. A nil value removes the field. A
// non-nil active toggles the record's visibility.
func (s *Store) Update(ctx context.Context, userID, model, id string, fields map[string]any, active *bool) (*Record, error) {
	rec, err := s.Get(ctx, userID, model, id)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		if v == nil {
			delete(rec.Fields, k)
			continue
		}
		rec.Fields[k] = v
	}
	if active != nil {
		rec.Active = *active
	}
	rec.UpdatedAt = s.now().UTC()
	if err := s.put(ctx, userID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Unlink deletes the record permanently.
func (s *Store) Unlink(ctx context.Context, userID, model, id string) error {
	if _, err := s.Get(ctx, userID, model, id); err != nil {
		return err
	}
	if err := s.st.Delete(ctx, storage.WithUser(userID), storage.WithKey(recordKey(model, id))); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, userID string, rec *Record) error {
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.st.Set(ctx, recordKey(rec.Model, rec.ID), data, storage.WithUser(userID)); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}
