package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/CloudReel/sentinel/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const reportCollection = "compliance_reports"

// GenerateComplianceReport builds a report of all events in the range that
// carry a compliance flag matching the report type (gdpr, pci, soc2, sox),
// persists it, and returns it. Errors are surfaced: a report must not
// silently omit data.
func (t *Trail) GenerateComplianceReport(ctx context.Context, reportType string, from, to time.Time, requestedBy string) (*ComplianceReport, error) {
	if reportType == "" {
		return nil, fmt.Errorf("audit: report type required")
	}

	events, err := t.Query(ctx, Filters{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("collect events for %s report: %w", reportType, err)
	}

	var matched []Event
	for _, e := range events {
		for _, flag := range e.ComplianceFlags {
			if flag == reportType {
				matched = append(matched, e)
				break
			}
		}
	}

	report := &ComplianceReport{
		ReportID:    uuid.NewString(),
		Type:        reportType,
		StartDate:   from,
		EndDate:     to,
		Events:      matched,
		Summary:     summarize(matched),
		GeneratedAt: t.clock.Now(),
		GeneratedBy: requestedBy,
	}

	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	err = t.store.Put(ctx, reportCollection, store.Document{
		ID:      report.ReportID,
		Indexed: map[string]string{"type": reportType, "generated_by": requestedBy},
		At:      report.GeneratedAt,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}

	t.logger.Info("compliance report generated",
		zap.String("report_id", report.ReportID),
		zap.String("type", reportType),
		zap.Int("events", len(matched)))
	return report, nil
}

// Report retrieves a previously generated compliance report.
func (t *Trail) Report(ctx context.Context, reportID string) (*ComplianceReport, error) {
	doc, err := t.store.Get(ctx, reportCollection, reportID)
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", reportID, err)
	}
	var report ComplianceReport
	if err := json.Unmarshal(doc.Body, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", reportID, err)
	}
	return &report, nil
}

func summarize(events []Event) ReportSummary {
	users := map[string]bool{}
	resources := map[string]bool{}
	summary := ReportSummary{TotalEvents: len(events), ResourcesAccessed: []string{}}

	for _, e := range events {
		if e.Severity == SeverityCritical {
			summary.CriticalEvents++
		}
		if e.Outcome == OutcomeFailure {
			summary.FailedEvents++
		}
		users[e.UserID] = true
		if !resources[e.Resource] {
			resources[e.Resource] = true
			summary.ResourcesAccessed = append(summary.ResourcesAccessed, e.Resource)
		}
	}
	summary.UserCount = len(users)
	sort.Strings(summary.ResourcesAccessed)
	return summary
}

// ExportUserData returns the user's full event history plus a derived
// activity summary. The export itself is audited: data leaving the system
// must be traceable.
func (t *Trail) ExportUserData(ctx context.Context, userID string) (*UserDataExport, error) {
	if userID == "" {
		return nil, fmt.Errorf("audit: user id required")
	}

	events, err := t.Query(ctx, Filters{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("export user %s: %w", userID, err)
	}

	export := &UserDataExport{
		UserID:      userID,
		Events:      events,
		Summary:     activitySummary(events),
		GeneratedAt: t.clock.Now(),
	}

	if _, err := t.Log(ctx, userID, "data_export", "audit_trail", Details{
		Metadata: map[string]string{"events": fmt.Sprintf("%d", len(events))},
	}); err != nil {
		return nil, err
	}
	return export, nil
}

func activitySummary(events []Event) ActivitySummary {
	summary := ActivitySummary{
		TotalEvents:    len(events),
		ActionCounts:   map[string]int{},
		CategoryCounts: map[string]int{},
	}
	for _, e := range events {
		summary.ActionCounts[e.Action]++
		summary.CategoryCounts[string(e.Category)]++
		if summary.FirstSeen.IsZero() || e.Timestamp.Before(summary.FirstSeen) {
			summary.FirstSeen = e.Timestamp
		}
		if e.Timestamp.After(summary.LastSeen) {
			summary.LastSeen = e.Timestamp
		}
	}
	return summary
}

// DeleteUserData anonymizes the user's events in place, replacing identity
// fields with a sentinel while keeping each record, so erasure requests are
// honored without breaking aggregate audit integrity. Events carrying a
// compliance flag named in retentionExceptions are left untouched.
// Returns the number of anonymized events.
func (t *Trail) DeleteUserData(ctx context.Context, userID string, retentionExceptions []string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("audit: user id required")
	}

	retained := map[string]bool{}
	for _, flag := range retentionExceptions {
		retained[flag] = true
	}

	events, err := t.Query(ctx, Filters{UserID: userID})
	if err != nil {
		return 0, fmt.Errorf("delete user data %s: %w", userID, err)
	}

	anonymized := 0
	for _, e := range events {
		keep := false
		for _, flag := range e.ComplianceFlags {
			if retained[flag] {
				keep = true
				break
			}
		}
		if keep {
			continue
		}

		e.UserEmail = anonymizeField(e.UserEmail)
		e.IPAddress = anonymizeField(e.IPAddress)
		e.UserAgent = anonymizeField(e.UserAgent)
		e.SessionID = anonymizeField(e.SessionID)
		e.UserID = AnonymizedSentinel
		for k := range e.Metadata {
			e.Metadata[k] = AnonymizedSentinel
		}

		body, err := json.Marshal(e)
		if err != nil {
			return anonymized, fmt.Errorf("marshal anonymized event %s: %w", e.ID, err)
		}
		// The user_id index entry is kept so the record count for the
		// subject remains queryable after erasure.
		err = t.store.Put(ctx, partition(e.Timestamp), store.Document{
			ID: e.ID,
			Indexed: map[string]string{
				"user_id":  userID,
				"action":   e.Action,
				"resource": e.Resource,
				"category": string(e.Category),
				"severity": string(e.Severity),
			},
			At:   e.Timestamp,
			Body: body,
		})
		if err != nil {
			return anonymized, fmt.Errorf("anonymize event %s: %w", e.ID, err)
		}
		anonymized++
	}

	// The erasure itself is logged without naming the subject.
	if _, err := t.Log(ctx, AnonymizedSentinel, "user_data_delete", "audit_trail", Details{
		Metadata: map[string]string{"anonymized": fmt.Sprintf("%d", anonymized)},
	}); err != nil {
		return anonymized, err
	}
	return anonymized, nil
}

func anonymizeField(s string) string {
	if s == "" {
		return s
	}
	return AnonymizedSentinel
}

// CheckViolations flags critical-severity events whose outcome is failure
// as open compliance violations requiring review.
func (t *Trail) CheckViolations(ctx context.Context, from, to time.Time) ([]Violation, error) {
	events, err := t.Query(ctx, Filters{Severity: SeverityCritical, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("check violations: %w", err)
	}

	var violations []Violation
	for _, e := range events {
		if e.Outcome != OutcomeFailure {
			continue
		}
		violations = append(violations, Violation{
			EventID:  e.ID,
			UserID:   e.UserID,
			Action:   e.Action,
			Resource: e.Resource,
			At:       e.Timestamp,
			Reason:   "critical action failed",
		})
	}
	return violations, nil
}
