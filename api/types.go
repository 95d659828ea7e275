// Package api holds the JSON types exchanged between the tracker SDK and
// the collector.
package api

import (
	"encoding/json"
	"time"
)

// Header names carrying the caller's credentials.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderProjectID = "X-Project-ID"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityError, SeverityWarning:
		return true
	}
	return false
}

// UnmarshalJSON accepts any JSON value. Anything but a string decodes to
// the empty severity, which the collector treats like an unknown one.
func (s *Severity) UnmarshalJSON(b []byte) error {
	*s = Severity(lenientString(b))
	return nil
}

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Valid reports whether s is one of the triage states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// UnmarshalJSON accepts any JSON value; non-strings decode to "".
func (s *Status) UnmarshalJSON(b []byte) error {
	*s = Status(lenientString(b))
	return nil
}

func lenientString(b []byte) string {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return ""
	}
	return v
}

// Agent names a browser or operating system.
type Agent struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ErrorEvent is the wire form of a single reported error.
// ID and CreatedAt are only filled on reads.
type ErrorEvent struct {
	ID          string         `json:"id,omitempty"`
	Message     string         `json:"message"`
	Type        string         `json:"type"`
	Stack       string         `json:"stack,omitempty"`
	Browser     *Agent         `json:"browser,omitempty"`
	OS          *Agent         `json:"os,omitempty"`
	Severity    Severity       `json:"severity,omitempty"`
	Status      Status         `json:"status,omitempty"`
	Environment string         `json:"environment"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Response is the envelope every /api endpoint answers with.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusUpdate is the body of a status change request.
type StatusUpdate struct {
	Status Status `json:"status"`
}

// Stats counts a project's errors by severity.
type Stats struct {
	Total    int64 `json:"total"`
	Critical int64 `json:"critical"`
	Error    int64 `json:"error"`
	Warning  int64 `json:"warning"`
}

// TrendPoint is one hourly bucket of error counts.
type TrendPoint struct {
	Bucket   time.Time `json:"bucket"`
	Critical int64     `json:"critical"`
	Error    int64     `json:"error"`
	Warning  int64     `json:"warning"`
}
