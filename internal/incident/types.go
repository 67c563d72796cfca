package incident

import (
	"errors"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
)

// Incident statuses. An incident moves detected -> investigating ->
// contained and ends at resolved or false_positive.
const (
	StatusDetected      = "detected"
	StatusInvestigating = "investigating"
	StatusContained     = "contained"
	StatusResolved      = "resolved"
	StatusFalsePositive = "false_positive"
)

// Well-known incident types. Detect accepts any non-empty type; these are
// the ones the default rule set matches.
const (
	TypeCredentialStuffing = "credential_stuffing"
	TypeKeyCompromise      = "key_compromise"
	TypeAccountTakeover    = "account_takeover"
	TypeContentAbuse       = "content_abuse"
	TypePaymentFraud       = "payment_fraud"
	TypeDataExfiltration   = "data_exfiltration"
)

// Response action names.
const (
	ActionBlockUserAccount   = "block_user_account"
	ActionRotateKeys         = "rotate_keys"
	ActionBlockIPAddresses   = "block_ip_addresses"
	ActionInvalidateSessions = "invalidate_sessions"
	ActionEnhancedMonitoring = "enable_enhanced_monitoring"
	ActionSendAlerts         = "send_alerts"
	ActionQuarantineFiles    = "quarantine_files"
)

var (
	ErrIncidentNotFound  = errors.New("incident: not found")
	ErrInvalidIncident   = errors.New("incident: type and severity are required")
	ErrInvalidTransition = errors.New("incident: status transition not allowed")
)

// ActionRecord is one executed automated response step. Failed actions are
// recorded, not retried; the rest of the playbook still runs.
type ActionRecord struct {
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}

// ManualAction is a response step a human took, appended through status
// updates.
type ManualAction struct {
	Action      string    `json:"action"`
	PerformedBy string    `json:"performedBy"`
	Notes       string    `json:"notes,omitempty"`
	At          time.Time `json:"at"`
}

// SecurityIncident is a detected security event under response.
type SecurityIncident struct {
	ID                  string            `json:"id"`
	Type                string            `json:"type"`
	Severity            audit.Severity    `json:"severity"`
	Status              string            `json:"status"`
	Description         string            `json:"description"`
	Source              string            `json:"source"`
	AffectedUsers       []string          `json:"affectedUsers,omitempty"`
	AffectedIPs         []string          `json:"affectedIps,omitempty"`
	AffectedSystems     []string          `json:"affectedSystems,omitempty"`
	Indicators          []string          `json:"indicators,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	DetectedAt          time.Time         `json:"detectedAt"`
	ResolvedAt          *time.Time        `json:"resolvedAt,omitempty"`
	ActionsTaken        []ActionRecord    `json:"actionsTaken,omitempty"`
	ManualActions       []ManualAction    `json:"manualActions,omitempty"`
	ContainmentMeasures []string          `json:"containmentMeasures,omitempty"`
}

// RuleAction is one automated step in a playbook, with optional parameters
// for its handler and an optional delay before it runs.
type RuleAction struct {
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Delay      time.Duration     `json:"delay,omitempty"`
}

// ResponseRule binds incident types to a playbook of actions. A rule
// matches when it is enabled, its type equals the incident type, and the
// incident severity is at or above the rule's minimum.
type ResponseRule struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	IncidentType string         `json:"incidentType"`
	MinSeverity  audit.Severity `json:"minSeverity"`
	Actions      []RuleAction   `json:"actions"`
	Priority     int            `json:"priority"`
	Enabled      bool           `json:"enabled"`
}

// Validate checks rule configuration.
func (r *ResponseRule) Validate() error {
	if r.Name == "" {
		return errors.New("incident: rule name is required")
	}
	if r.IncidentType == "" {
		return errors.New("incident: rule incident type is required")
	}
	if len(r.Actions) == 0 {
		return errors.New("incident: rule needs at least one action")
	}
	for _, a := range r.Actions {
		if a.Action == "" {
			return errors.New("incident: rule action needs a name")
		}
	}
	return nil
}

// Matches reports whether the rule applies to the incident.
func (r *ResponseRule) Matches(inc *SecurityIncident) bool {
	if !r.Enabled || r.IncidentType != inc.Type {
		return false
	}
	return inc.Severity.Rank() >= r.MinSeverity.Rank()
}

// transitions lists the allowed next statuses per status. Terminal
// statuses have no entries.
var transitions = map[string][]string{
	StatusDetected:      {StatusInvestigating, StatusContained, StatusFalsePositive},
	StatusInvestigating: {StatusContained, StatusResolved, StatusFalsePositive},
	StatusContained:     {StatusResolved, StatusFalsePositive},
}

func transitionAllowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func terminal(status string) bool {
	return status == StatusResolved || status == StatusFalsePositive
}
