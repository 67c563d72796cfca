package fraud

import "time"

// SignalType identifies one class of fraud evidence.
type SignalType string

const (
	SignalVelocity    SignalType = "velocity"
	SignalGeolocation SignalType = "geolocation"
	SignalDevice      SignalType = "device"
	SignalBehavioral  SignalType = "behavioral"
	SignalPayment     SignalType = "payment"
	SignalAccount     SignalType = "account"
)

// Severity of a signal. Weights drive the aggregate score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the aggregation weight for a severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.75
	case SeverityCritical:
		return 1.0
	default:
		return 0
	}
}

// RiskLevel bands the aggregate score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Action is the engine's recommendation for the analyzed transaction.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionReview    Action = "review"
	ActionBlock     Action = "block"
)

// recordedAction maps a recommendation onto the persisted event's action.
func recordedAction(a Action) string {
	switch a {
	case ActionBlock:
		return "blocked"
	case ActionChallenge:
		return "challenged"
	case ActionReview:
		return "reviewed"
	default:
		return "allowed"
	}
}

// Signal is one discrete piece of fraud evidence. Immutable; always
// embedded in the analysis's persisted Event.
type Signal struct {
	Type        SignalType        `json:"type"`
	Severity    Severity          `json:"severity"`
	Confidence  float64           `json:"confidence"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Location is a coarse request origin.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
}

// Event is one analyzed transaction, append-only.
type Event struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	EventType         string            `json:"eventType"`
	Timestamp         time.Time         `json:"timestamp"`
	IPAddress         string            `json:"ipAddress"`
	UserAgent         string            `json:"userAgent"`
	DeviceFingerprint string            `json:"deviceFingerprint"`
	Location          *Location         `json:"location,omitempty"`
	RiskScore         float64           `json:"riskScore"`
	Signals           []Signal          `json:"signals"`
	Action            string            `json:"action"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// EventData is the request context handed to Analyze.
type EventData struct {
	IP                string
	UserAgent         string
	DeviceFingerprint string
	Amount            float64
	PaymentMethodRef  string
	Location          *Location
}

// PaymentPatterns summarizes a user's historical payment behavior.
type PaymentPatterns struct {
	AverageAmount    float64  `json:"averageAmount"`
	Frequency        float64  `json:"frequency"`
	PreferredMethods []string `json:"preferredMethods"`
}

// BehaviorProfile is the engine's read-mostly picture of a user's normal
// activity, updated asynchronously after sessions.
type BehaviorProfile struct {
	UserID                 string          `json:"userId"`
	TypicalLoginTimes      []int           `json:"typicalLoginTimes"`
	CommonLocations        []string        `json:"commonLocations"`
	TypicalDevices         []string        `json:"typicalDevices"`
	AverageSessionDuration time.Duration   `json:"averageSessionDuration"`
	PaymentPatterns        PaymentPatterns `json:"paymentPatterns"`
	LastUpdated            time.Time       `json:"lastUpdated"`
}

// AnalysisResult is what Analyze returns to the caller.
type AnalysisResult struct {
	RiskScore         float64   `json:"riskScore"`
	RiskLevel         RiskLevel `json:"riskLevel"`
	Signals           []Signal  `json:"signals"`
	RecommendedAction Action    `json:"recommendedAction"`
	Reasoning         []string  `json:"reasoning"`
}

// SessionSummary feeds post-session profile updates.
type SessionSummary struct {
	LoginTime     time.Time
	Country       string
	Device        string
	Duration      time.Duration
	PaymentAmount float64
	PaymentMethod string
}
