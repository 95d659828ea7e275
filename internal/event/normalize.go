// Package event converts between the wire form of a reported error and
// its persisted record.
package event

import (
	"gorm.io/datatypes"

	"traceiq/api"
	dbpkg "traceiq/internal/db"
)

// Normalize maps a client-supplied event to a record owned by projectID.
//
// Agent versions are dropped. Severity falls back to "error" when it is
// empty or not one of the known values. Status is always "open": clients
// cannot assert triage state at ingestion.
func Normalize(ev api.ErrorEvent, projectID string) dbpkg.ErrorRecord {
	rec := dbpkg.ErrorRecord{
		ProjectID:   projectID,
		Message:     ev.Message,
		Type:        ev.Type,
		StackTrace:  optional(ev.Stack),
		Severity:    string(normalizeSeverity(ev.Severity)),
		Status:      string(api.StatusOpen),
		Environment: ev.Environment,
	}
	if ev.Browser != nil {
		rec.Browser = optional(ev.Browser.Name)
	}
	if ev.OS != nil {
		rec.OS = optional(ev.OS.Name)
	}
	if len(ev.Metadata) > 0 {
		rec.Metadata = datatypes.JSONMap(ev.Metadata)
	}
	return rec
}

// ToWire maps a stored record back to the wire form. Browser and OS come
// back with an empty version.
func ToWire(rec dbpkg.ErrorRecord) api.ErrorEvent {
	createdAt := rec.CreatedAt.UTC()
	ev := api.ErrorEvent{
		ID:          rec.ID,
		Message:     rec.Message,
		Type:        rec.Type,
		Severity:    api.Severity(rec.Severity),
		Status:      api.Status(rec.Status),
		Environment: rec.Environment,
		CreatedAt:   &createdAt,
	}
	if rec.StackTrace != nil {
		ev.Stack = *rec.StackTrace
	}
	if rec.Browser != nil {
		ev.Browser = &api.Agent{Name: *rec.Browser}
	}
	if rec.OS != nil {
		ev.OS = &api.Agent{Name: *rec.OS}
	}
	if len(rec.Metadata) > 0 {
		ev.Metadata = map[string]any(rec.Metadata)
	}
	return ev
}

// ToWireList maps records in order.
func ToWireList(recs []dbpkg.ErrorRecord) []api.ErrorEvent {
	out := make([]api.ErrorEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ToWire(rec))
	}
	return out
}

func normalizeSeverity(s api.Severity) api.Severity {
	if s.Valid() {
		return s
	}
	return api.SeverityError
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
