package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/CloudReel/sentinel/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidEvent is returned when a log call is missing required fields.
var ErrInvalidEvent = errors.New("audit: action and resource are required")

const partitionPrefix = "audit_"

// Trail records every security-relevant action. Events are partitioned by
// calendar month for query locality and are append-only: erasure requests
// anonymize in place.
type Trail struct {
	store  store.DocumentStore
	logger *zap.Logger
	clock  clock.Clock
}

// NewTrail creates an audit trail over the given document store.
func NewTrail(docs store.DocumentStore, logger *zap.Logger, clk clock.Clock) *Trail {
	if clk == nil {
		clk = clock.Real()
	}
	return &Trail{store: docs, logger: logger, clock: clk}
}

// partition returns the collection name for a timestamp.
func partition(t time.Time) string {
	return partitionPrefix + t.UTC().Format("2006-01")
}

// Log records an audit event and returns its id. Severity, category and
// compliance flags are inferred from the action/resource strings when not
// supplied. Store failures are swallowed: the trail degrades to local
// diagnostic logging rather than failing the caller's request.
func (t *Trail) Log(ctx context.Context, userID, action, resource string, details Details) (string, error) {
	if action == "" || resource == "" {
		return "", ErrInvalidEvent
	}

	now := t.clock.Now()
	event := Event{
		ID:         uuid.NewString(),
		UserID:     userID,
		UserEmail:  details.UserEmail,
		Action:     action,
		Resource:   resource,
		ResourceID: details.ResourceID,
		Timestamp:  now,
		IPAddress:  details.IPAddress,
		UserAgent:  details.UserAgent,
		SessionID:  details.SessionID,
		Metadata:   details.Metadata,
		Severity:   details.Severity,
		Category:   details.Category,
		Outcome:    details.Outcome,
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}

	severity, category, flags := classify(action, resource)
	if event.Severity == "" {
		event.Severity = severity
	}
	if event.Category == "" {
		event.Category = category
		event.ComplianceFlags = flags
	} else {
		event.ComplianceFlags = categoryFlags(event.Category)
	}
	if event.ComplianceFlags == nil {
		event.ComplianceFlags = []string{}
	}

	t.write(ctx, event)

	metrics.AuditEvents.WithLabelValues(string(event.Severity)).Inc()
	return event.ID, nil
}

// write persists an event. The write is detached from request cancellation:
// once issued, an audit record survives even if the triggering operation is
// abandoned.
func (t *Trail) write(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		t.logger.Error("audit: marshal event", zap.Error(err), zap.String("action", event.Action))
		return
	}

	doc := store.Document{
		ID: event.ID,
		Indexed: map[string]string{
			"user_id":  event.UserID,
			"action":   event.Action,
			"resource": event.Resource,
			"category": string(event.Category),
			"severity": string(event.Severity),
		},
		At:   event.Timestamp,
		Body: body,
	}

	if err := t.store.Put(context.WithoutCancel(ctx), partition(event.Timestamp), doc); err != nil {
		// Degraded store: fall back to local diagnostic logging.
		t.logger.Error("audit: store unreachable, event not persisted",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("action", event.Action),
			zap.String("user_id", event.UserID))
	}
}

// Query returns events matching the filters, newest first, spanning only
// the partitions that overlap the requested date range.
func (t *Trail) Query(ctx context.Context, f Filters) ([]Event, error) {
	partitions, err := t.partitionsFor(ctx, f.From, f.To)
	if err != nil {
		return nil, err
	}

	indexed := map[string]string{}
	if f.UserID != "" {
		indexed["user_id"] = f.UserID
	}
	if f.Action != "" {
		indexed["action"] = f.Action
	}
	if f.Resource != "" {
		indexed["resource"] = f.Resource
	}
	if f.Category != "" {
		indexed["category"] = string(f.Category)
	}
	if f.Severity != "" {
		indexed["severity"] = string(f.Severity)
	}

	var events []Event
	for _, p := range partitions {
		docs, err := t.store.Query(ctx, p, store.Query{
			Filters: indexed,
			From:    f.From,
			To:      f.To,
		})
		if err != nil {
			return nil, fmt.Errorf("query partition %s: %w", p, err)
		}
		for _, doc := range docs {
			var event Event
			if err := json.Unmarshal(doc.Body, &event); err != nil {
				return nil, fmt.Errorf("decode event %s: %w", doc.ID, err)
			}
			events = append(events, event)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events, nil
}

// partitionsFor enumerates the monthly partitions overlapping [from, to].
// An open range falls back to listing existing partitions.
func (t *Trail) partitionsFor(ctx context.Context, from, to time.Time) ([]string, error) {
	if from.IsZero() || to.IsZero() {
		return t.store.Collections(ctx, partitionPrefix)
	}

	var partitions []string
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(end) {
		partitions = append(partitions, partition(cursor))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return partitions, nil
}
