package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"ist-insights-go/internal/aggregator"
	"ist-insights-go/internal/types"
)

// JSONRepository keeps every event in one pretty-printed JSON array on disk
// and an in-memory copy loaded on first use. Records are kept as written so
// hand-edited or legacy entries with unexpected shapes survive a rewrite.
type JSONRepository struct {
	path string

	mu      sync.Mutex
	records []jsonRecord
	loaded  bool
}

// jsonRecord pairs the stored bytes with their typed view. ok is false when
// the element is not an object and so takes no part in lookups.
type jsonRecord struct {
	raw json.RawMessage
	ev  types.IstEvent
	ok  bool
}

func NewJSONRepository(path string) *JSONRepository {
	return &JSONRepository{path: path}
}

func (r *JSONRepository) ensureLoaded() error {
	if r.loaded {
		return nil
	}
	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.records = nil
	case err != nil:
		return fmt.Errorf("read %s: %w", r.path, err)
	case len(data) == 0:
		r.records = nil
	default:
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return fmt.Errorf("decode %s: %w", r.path, err)
		}
		r.records = make([]jsonRecord, 0, len(raws))
		for _, raw := range raws {
			ev, ok := decodeStoredEvent(raw)
			r.records = append(r.records, jsonRecord{raw: raw, ev: ev, ok: ok})
		}
	}
	r.loaded = true
	return nil
}

// decodeStoredEvent reads one record field by field. A field of the wrong
// type is dropped instead of failing the record; numeric scalars keep their
// literal text.
func decodeStoredEvent(raw json.RawMessage) (types.IstEvent, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return types.IstEvent{}, false
	}
	return types.IstEvent{
		ID:            storedText(fields["id"]),
		CreatedAt:     storedText(fields["createdAt"]),
		UserID:        storedOptional(fields["userId"]),
		CourseID:      storedOptional(fields["courseId"]),
		Utterance:     storedText(fields["utterance"]),
		CourseContext: storedOptional(fields["courseContext"]),
		Intent:        storedText(fields["intent"]),
		Skills:        storedList(fields["skills"]),
		Trajectory:    storedList(fields["trajectory"]),
	}, true
}

func storedText(v json.RawMessage) string {
	if p := storedOptional(v); p != nil {
		return *p
	}
	return ""
}

func storedOptional(v json.RawMessage) *string {
	if len(v) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		s = n.String()
		return &s
	}
	return nil
}

// storedList keeps the string entries of an array; any other shape reads as nil.
func storedList(v json.RawMessage) []string {
	if len(v) == 0 {
		return nil
	}
	var items []any
	if err := json.Unmarshal(v, &items); err != nil || items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *JSONRepository) persist() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	raws := make([]json.RawMessage, len(r.records))
	for i, rec := range r.records {
		raws[i] = rec.raw
	}
	data, err := json.MarshalIndent(raws, "", "  ")
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, r.path)
}

// nextID continues the numeric id sequence; non-numeric ids are skipped.
func (r *JSONRepository) nextID() string {
	maxID := 0
	for _, rec := range r.records {
		if n, err := strconv.Atoi(rec.ev.ID); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

func (r *JSONRepository) Save(_ context.Context, in types.CreateIstEventInput) (types.IstEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(); err != nil {
		return types.IstEvent{}, err
	}
	ev := newEvent(r.nextID(), nowISO(), in)
	raw, err := json.Marshal(ev)
	if err != nil {
		return types.IstEvent{}, fmt.Errorf("encode event: %w", err)
	}
	r.records = append(r.records, jsonRecord{raw: raw, ev: ev, ok: true})
	if err := r.persist(); err != nil {
		r.records = r.records[:len(r.records)-1]
		return types.IstEvent{}, err
	}
	return ev, nil
}

func (r *JSONRepository) filter(keep func(types.IstEvent) bool) ([]types.IstEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	var out []types.IstEvent
	for _, rec := range r.records {
		if rec.ok && keep(rec.ev) {
			out = append(out, rec.ev)
		}
	}
	return out, nil
}

func (r *JSONRepository) FindByID(_ context.Context, id string) (types.IstEvent, error) {
	found, err := r.filter(func(ev types.IstEvent) bool { return ev.ID == id })
	if err != nil {
		return types.IstEvent{}, err
	}
	if len(found) == 0 {
		return types.IstEvent{}, ErrNotFound
	}
	return found[0], nil
}

func (r *JSONRepository) FindByCourse(_ context.Context, courseID string) ([]types.IstEvent, error) {
	return r.filter(func(ev types.IstEvent) bool { return types.StrVal(ev.CourseID) == courseID })
}

func (r *JSONRepository) FindByUser(_ context.Context, userID string) ([]types.IstEvent, error) {
	return r.filter(func(ev types.IstEvent) bool { return types.StrVal(ev.UserID) == userID })
}

func (r *JSONRepository) FindByUserAndCourse(_ context.Context, userID, courseID string) ([]types.IstEvent, error) {
	return r.filter(func(ev types.IstEvent) bool {
		return types.StrVal(ev.UserID) == userID && types.StrVal(ev.CourseID) == courseID
	})
}

func (r *JSONRepository) RecentEvents(_ context.Context, p RecentParams) ([]types.IstEvent, error) {
	out, err := r.filter(func(ev types.IstEvent) bool {
		if types.StrVal(ev.UserID) != p.UserID {
			return false
		}
		return p.CourseID == nil || types.StrVal(ev.CourseID) == *p.CourseID
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out[:min(limitOrDefault(p.Limit), len(out))], nil
}

// ReportEvents decodes each stored record on its own so malformed skills
// values reach the report unchanged.
func (r *JSONRepository) ReportEvents(_ context.Context, courseID string) ([]aggregator.IstEventForReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	var out []aggregator.IstEventForReport
	for _, rec := range r.records {
		var ev aggregator.IstEventForReport
		if err := json.Unmarshal(rec.raw, &ev); err != nil {
			continue
		}
		if ev.CourseID == courseID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *JSONRepository) Close() error { return nil }
