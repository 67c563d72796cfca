package audit

import "time"

// Severity of an audit event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank places severities on an ordinal scale for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Category of an audit event.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryData     Category = "data"
	CategorySystem   Category = "system"
	CategorySecurity Category = "security"
	CategoryPayment  Category = "payment"
	CategoryContent  Category = "content"
)

// Outcome of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// AnonymizedSentinel replaces identity fields when user data is erased.
// Records are kept so aggregate audit integrity survives erasure requests.
const AnonymizedSentinel = "anonymized"

// Event is one audit record. Append-only; anonymized in place, never
// deleted.
type Event struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	UserEmail       string            `json:"userEmail,omitempty"`
	Action          string            `json:"action"`
	Resource        string            `json:"resource"`
	ResourceID      string            `json:"resourceId,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	IPAddress       string            `json:"ipAddress,omitempty"`
	UserAgent       string            `json:"userAgent,omitempty"`
	SessionID       string            `json:"sessionId,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Severity        Severity          `json:"severity"`
	Category        Category          `json:"category"`
	Outcome         Outcome           `json:"outcome"`
	ComplianceFlags []string          `json:"complianceFlags"`
}

// Details carries the optional fields of a log call. Zero values mean
// "infer from the action/resource strings".
type Details struct {
	ResourceID string
	UserEmail  string
	IPAddress  string
	UserAgent  string
	SessionID  string
	Outcome    Outcome
	Severity   Severity
	Category   Category
	Metadata   map[string]string
}

// Filters select audit events in Query.
type Filters struct {
	UserID   string
	Action   string
	Resource string
	Category Category
	Severity Severity
	From     time.Time
	To       time.Time
	Limit    int
}

// ReportSummary aggregates a compliance report's events.
type ReportSummary struct {
	TotalEvents       int      `json:"totalEvents"`
	CriticalEvents    int      `json:"criticalEvents"`
	FailedEvents      int      `json:"failedEvents"`
	UserCount         int      `json:"userCount"`
	ResourcesAccessed []string `json:"resourcesAccessed"`
}

// ComplianceReport is a persisted, flag-filtered view of the trail.
type ComplianceReport struct {
	ReportID    string        `json:"reportId"`
	Type        string        `json:"type"`
	StartDate   time.Time     `json:"startDate"`
	EndDate     time.Time     `json:"endDate"`
	Events      []Event       `json:"events"`
	Summary     ReportSummary `json:"summary"`
	GeneratedAt time.Time     `json:"generatedAt"`
	GeneratedBy string        `json:"generatedBy"`
}

// UserDataExport is the result of a subject access request.
type UserDataExport struct {
	UserID      string          `json:"userId"`
	Events      []Event         `json:"events"`
	Summary     ActivitySummary `json:"summary"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// ActivitySummary is the derived view included in a user data export.
type ActivitySummary struct {
	TotalEvents    int            `json:"totalEvents"`
	FirstSeen      time.Time      `json:"firstSeen"`
	LastSeen       time.Time      `json:"lastSeen"`
	ActionCounts   map[string]int `json:"actionCounts"`
	CategoryCounts map[string]int `json:"categoryCounts"`
}

// Violation flags a critical failure that requires compliance review.
type Violation struct {
	EventID  string    `json:"eventId"`
	UserID   string    `json:"userId"`
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason"`
}
