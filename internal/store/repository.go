// Package store persists recordings, workflows and automation sessions. Every
// backend implements Repository; Cached adds an in-memory layer with
// write-behind persistence on top of any of them.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultListLimit applies when a caller passes a non-positive limit.
const DefaultListLimit = 50

// Kind names a record family. It doubles as the metrics label and key prefix.
type Kind string

const (
	KindRecording Kind = "recording"
	KindWorkflow  Kind = "workflow"
	KindSession   Kind = "session"
)

// Repository is the persistence contract shared by all backends. List methods
// return the most recently updated records first.
type Repository interface {
	SaveRecording(ctx context.Context, rec *schemas.RecordingSession) error
	GetRecording(ctx context.Context, id string) (*schemas.RecordingSession, error)
	ListRecordings(ctx context.Context, limit int) ([]*schemas.RecordingSession, error)

	SaveWorkflow(ctx context.Context, wf *schemas.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context, limit int) ([]*schemas.WorkflowDefinition, error)
	// SearchWorkflows matches query as a case-insensitive substring of the
	// name or description. An empty query lists.
	SearchWorkflows(ctx context.Context, query string, limit int) ([]*schemas.WorkflowDefinition, error)

	SaveSession(ctx context.Context, s *schemas.AutomationSession) error
	GetSession(ctx context.Context, id string) (*schemas.AutomationSession, error)
	ListSessions(ctx context.Context, limit int) ([]*schemas.AutomationSession, error)

	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func notFound(kind Kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, schemas.ErrNotFound)
}

func storageErr(op string, kind Kind, err error) error {
	return fmt.Errorf("%w: failed to %s %s: %w", schemas.ErrStorage, op, kind, err)
}

// stamp returns the record's update time in UTC, or now if unset.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func matchesQuery(wf *schemas.WorkflowDefinition, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(wf.Name), q) ||
		strings.Contains(strings.ToLower(wf.Description), q)
}

// sortNewest orders records by update time, newest first, with the id as a
// stable tie breaker, and truncates to limit.
func sortNewest[T any](items []T, updated func(T) time.Time, id func(T) string, limit int) []T {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := updated(items[i]), updated(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return id(items[i]) < id(items[j])
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func recordingUpdated(r *schemas.RecordingSession) time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.StartTime
}
func recordingID(r *schemas.RecordingSession) string          { return r.ID }
func workflowUpdated(w *schemas.WorkflowDefinition) time.Time { return w.UpdatedAt }
func workflowID(w *schemas.WorkflowDefinition) string         { return w.ID }
func sessionUpdated(s *schemas.AutomationSession) time.Time   { return s.UpdatedAt }
func sessionID(s *schemas.AutomationSession) string           { return s.SessionID }
