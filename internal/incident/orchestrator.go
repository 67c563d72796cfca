package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/CloudReel/sentinel/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const incidentCollection = "security_incidents"

const monitoringWindow = 24 * time.Hour

// Orchestrator runs automated response playbooks when incidents are
// detected and tracks each incident through its lifecycle.
type Orchestrator struct {
	mu         sync.Mutex
	store      store.DocumentStore
	trail      *audit.Trail
	logger     *zap.Logger
	clock      clock.Clock
	actions    map[string]ActionFunc
	rules      []*ResponseRule
	monitoring map[string]time.Time
}

// NewOrchestrator creates an orchestrator with the built-in action set.
func NewOrchestrator(docs store.DocumentStore, trail *audit.Trail, deps Deps, logger *zap.Logger, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	o := &Orchestrator{
		store:      docs,
		trail:      trail,
		logger:     logger,
		clock:      clk,
		monitoring: make(map[string]time.Time),
	}
	o.actions = builtinActions(deps, o)
	return o
}

// AddRule registers a response rule. Rules are evaluated highest priority
// first.
func (o *Orchestrator) AddRule(rule *ResponseRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.rules = append(o.rules, rule)
	sort.SliceStable(o.rules, func(i, j int) bool { return o.rules[i].Priority > o.rules[j].Priority })
	return nil
}

// Rules returns the registered rules, highest priority first.
func (o *Orchestrator) Rules() []*ResponseRule {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*ResponseRule, len(o.rules))
	copy(out, o.rules)
	return out
}

// Detect records a new incident and synchronously runs every matching
// playbook. Action failures are recorded on the incident but never stop
// the remaining actions; detection itself only fails on invalid input or
// a storage error.
func (o *Orchestrator) Detect(ctx context.Context, inc *SecurityIncident) (*SecurityIncident, error) {
	if inc == nil || inc.Type == "" || inc.Severity == "" {
		return nil, ErrInvalidIncident
	}

	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	inc.Status = StatusDetected
	inc.DetectedAt = o.clock.Now()

	if err := o.save(ctx, inc); err != nil {
		return nil, err
	}

	metrics.Incidents.WithLabelValues(string(inc.Severity)).Inc()
	o.auditLog(ctx, "incident_detected", inc, map[string]string{"type": inc.Type})
	o.logger.Warn("security incident detected",
		zap.String("incident_id", inc.ID),
		zap.String("type", inc.Type),
		zap.String("severity", string(inc.Severity)))

	o.respond(ctx, inc)

	if err := o.save(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

// respond executes each matching rule's actions in order, highest
// priority rule first. A rule's actions always run, even when an earlier
// rule already ran the same action: each rule is its own playbook.
func (o *Orchestrator) respond(ctx context.Context, inc *SecurityIncident) {
	o.mu.Lock()
	rules := make([]*ResponseRule, len(o.rules))
	copy(rules, o.rules)
	o.mu.Unlock()

	for _, rule := range rules {
		if !rule.Matches(inc) {
			continue
		}
		for _, action := range rule.Actions {
			if action.Delay > 0 {
				select {
				case <-time.After(action.Delay):
				case <-ctx.Done():
					return
				}
			}
			o.execute(ctx, inc, action.Action, action.Parameters)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, inc *SecurityIncident, name string, params map[string]string) {
	record := ActionRecord{Action: name, ExecutedAt: o.clock.Now()}

	fn, ok := o.actions[name]
	if !ok {
		record.Error = "unknown action"
	} else if err := fn(ctx, inc, params); err != nil {
		record.Error = err.Error()
	} else {
		record.Success = true
	}

	if record.Success {
		metrics.IncidentActions.WithLabelValues(name, "true").Inc()
		if measure := containmentMeasure(name, inc); measure != "" {
			inc.ContainmentMeasures = append(inc.ContainmentMeasures, measure)
		}
	} else {
		metrics.IncidentActions.WithLabelValues(name, "false").Inc()
		o.logger.Error("incident response action failed",
			zap.String("incident_id", inc.ID),
			zap.String("action", name),
			zap.String("error", record.Error))
	}
	inc.ActionsTaken = append(inc.ActionsTaken, record)
}

// containmentMeasure describes what a successful action contained.
// Notification-only actions return "".
func containmentMeasure(name string, inc *SecurityIncident) string {
	switch name {
	case ActionBlockUserAccount:
		return fmt.Sprintf("blocked %d user account(s)", len(inc.AffectedUsers))
	case ActionBlockIPAddresses:
		return fmt.Sprintf("blocked %d ip address(es)", len(inc.AffectedIPs))
	case ActionRotateKeys:
		return "rotated signing keys"
	case ActionInvalidateSessions:
		return "invalidated affected user sessions"
	case ActionQuarantineFiles:
		return "quarantined uploaded file"
	case ActionEnhancedMonitoring:
		return "enabled enhanced monitoring"
	default:
		return ""
	}
}

// RunAction executes a single named action against an incident on demand,
// for manual response from the API.
func (o *Orchestrator) RunAction(ctx context.Context, incidentID, action string, params map[string]string) (*SecurityIncident, error) {
	inc, err := o.Incident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	o.execute(ctx, inc, action, params)
	o.auditLog(ctx, "incident_action", inc, map[string]string{"action": action})
	if err := o.save(ctx, inc); err != nil {
		return nil, err
	}
	return inc, nil
}

// UpdateStatus moves an incident through its lifecycle and records who
// moved it. Terminal statuses stamp ResolvedAt; transitions out of a
// terminal status are rejected.
func (o *Orchestrator) UpdateStatus(ctx context.Context, incidentID, status, note, performedBy string) (*SecurityIncident, error) {
	inc, err := o.Incident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(inc.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, status)
	}

	inc.Status = status
	if terminal(status) {
		now := o.clock.Now()
		inc.ResolvedAt = &now
	}
	inc.ManualActions = append(inc.ManualActions, ManualAction{
		Action:      "status_change:" + status,
		PerformedBy: performedBy,
		Notes:       note,
		At:          o.clock.Now(),
	})

	if err := o.save(ctx, inc); err != nil {
		return nil, err
	}
	o.auditLog(ctx, "incident_status_change", inc, map[string]string{"status": status, "performed_by": performedBy})
	return inc, nil
}

// Incident loads one incident by id.
func (o *Orchestrator) Incident(ctx context.Context, id string) (*SecurityIncident, error) {
	doc, err := o.store.Get(ctx, incidentCollection, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("load incident: %w", err)
	}
	var inc SecurityIncident
	if err := json.Unmarshal(doc.Body, &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return &inc, nil
}

// Incidents lists incidents, newest first, optionally filtered by status
// and type.
func (o *Orchestrator) Incidents(ctx context.Context, status, incidentType string, limit int) ([]*SecurityIncident, error) {
	filters := make(map[string]string)
	if status != "" {
		filters["status"] = status
	}
	if incidentType != "" {
		filters["type"] = incidentType
	}
	docs, err := o.store.Query(ctx, incidentCollection, store.Query{Filters: filters, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}

	out := make([]*SecurityIncident, 0, len(docs))
	for _, doc := range docs {
		var inc SecurityIncident
		if err := json.Unmarshal(doc.Body, &inc); err != nil {
			return nil, fmt.Errorf("decode incident %s: %w", doc.ID, err)
		}
		out = append(out, &inc)
	}
	return out, nil
}

// Monitored reports whether a user is under enhanced monitoring from a
// recent incident.
func (o *Orchestrator) Monitored(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	until, ok := o.monitoring[userID]
	if !ok {
		return false
	}
	if o.clock.Now().After(until) {
		delete(o.monitoring, userID)
		return false
	}
	return true
}

func (o *Orchestrator) enableMonitoring(inc *SecurityIncident) {
	o.mu.Lock()
	defer o.mu.Unlock()
	until := o.clock.Now().Add(monitoringWindow)
	for _, userID := range inc.AffectedUsers {
		o.monitoring[userID] = until
	}
}

func (o *Orchestrator) save(ctx context.Context, inc *SecurityIncident) error {
	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", inc.ID, err)
	}
	err = o.store.Put(ctx, incidentCollection, store.Document{
		ID: inc.ID,
		Indexed: map[string]string{
			"type":     inc.Type,
			"severity": string(inc.Severity),
			"status":   inc.Status,
		},
		At:   inc.DetectedAt,
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	return nil
}

func (o *Orchestrator) auditLog(ctx context.Context, action string, inc *SecurityIncident, meta map[string]string) {
	if o.trail == nil {
		return
	}
	severity := audit.SeverityHigh
	if inc.Severity == audit.SeverityCritical {
		severity = audit.SeverityCritical
	}
	_, _ = o.trail.Log(ctx, "system", action, "incident", audit.Details{
		ResourceID: inc.ID,
		Severity:   severity,
		Category:   audit.CategorySecurity,
		Metadata:   meta,
	})
}

// DefaultRules is the stock playbook set for a streaming platform.
func DefaultRules() []*ResponseRule {
	return []*ResponseRule{
		{
			Name:         "credential stuffing response",
			IncidentType: TypeCredentialStuffing,
			MinSeverity:  audit.SeverityHigh,
			Actions: []RuleAction{
				{Action: ActionBlockIPAddresses, Parameters: map[string]string{"block_duration": "24h"}},
				{Action: ActionInvalidateSessions},
				{Action: ActionSendAlerts},
			},
			Priority: 100,
			Enabled:  true,
		},
		{
			Name:         "key compromise response",
			IncidentType: TypeKeyCompromise,
			MinSeverity:  audit.SeverityHigh,
			Actions: []RuleAction{
				{Action: ActionRotateKeys},
				{Action: ActionSendAlerts},
				{Action: ActionEnhancedMonitoring},
			},
			Priority: 100,
			Enabled:  true,
		},
		{
			Name:         "account takeover response",
			IncidentType: TypeAccountTakeover,
			MinSeverity:  audit.SeverityMedium,
			Actions: []RuleAction{
				{Action: ActionBlockUserAccount},
				{Action: ActionInvalidateSessions},
				{Action: ActionSendAlerts},
			},
			Priority: 90,
			Enabled:  true,
		},
		{
			Name:         "content abuse response",
			IncidentType: TypeContentAbuse,
			MinSeverity:  audit.SeverityMedium,
			Actions: []RuleAction{
				{Action: ActionQuarantineFiles},
				{Action: ActionEnhancedMonitoring},
			},
			Priority: 50,
			Enabled:  true,
		},
		{
			Name:         "payment fraud response",
			IncidentType: TypePaymentFraud,
			MinSeverity:  audit.SeverityHigh,
			Actions: []RuleAction{
				{Action: ActionBlockUserAccount},
				{Action: ActionSendAlerts},
				{Action: ActionEnhancedMonitoring},
			},
			Priority: 80,
			Enabled:  true,
		},
	}
}
