package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/CloudReel/sentinel/internal/platform"
	"github.com/CloudReel/sentinel/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	eventCollection   = "fraud_events"
	profileCollection = "behavior_profiles"
)

// velocityWindow pairs a lookback duration with its threshold key.
type velocityWindow struct {
	key      string
	duration time.Duration
}

var velocityWindows = []velocityWindow{
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
	{"1h", time.Hour},
	{"24h", 24 * time.Hour},
}

// Engine aggregates velocity, geolocation, device, behavioral and payment
// signals into a risk score and an action recommendation. Every analysis
// is persisted as an append-only Event; high or critical outcomes raise an
// audit event.
type Engine struct {
	store      store.DocumentStore
	payments   platform.PaymentProcessor
	trail      *audit.Trail
	logger     *zap.Logger
	clock      clock.Clock
	thresholds map[string]int
}

// NewEngine creates a fraud engine. payments may be nil when no payment
// processor is wired; payment signals are then skipped.
func NewEngine(docs store.DocumentStore, payments platform.PaymentProcessor, trail *audit.Trail, cfg config.FraudConfig, logger *zap.Logger, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	thresholds := cfg.VelocityThresholds
	if len(thresholds) == 0 {
		thresholds = config.Default().Fraud.VelocityThresholds
	}
	return &Engine{
		store:      docs,
		payments:   payments,
		trail:      trail,
		logger:     logger,
		clock:      clk,
		thresholds: thresholds,
	}
}

// Analyze scores one transaction. Internal errors return a safe high-risk
// default (score 0.8, review) rather than failing open.
func (e *Engine) Analyze(ctx context.Context, userID, eventType string, data EventData) AnalysisResult {
	if userID == "" || eventType == "" {
		return e.safeDefault("invalid analysis input")
	}

	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		e.logger.Error("fraud: load profile", zap.Error(err), zap.String("user_id", userID))
		return e.safeDefault("profile store unavailable")
	}

	var signals []Signal
	velocity, err := e.velocitySignals(ctx, userID, eventType)
	if err != nil {
		e.logger.Error("fraud: velocity query", zap.Error(err), zap.String("user_id", userID))
		return e.safeDefault("event log unavailable")
	}
	signals = append(signals, velocity...)

	// Comparative signals need a profile; a missing profile skips them
	// rather than raising risk.
	if profile != nil {
		signals = append(signals, geolocationSignal(profile, data.Location)...)
		signals = append(signals, deviceSignal(profile, data.DeviceFingerprint)...)
		// Typical-hour comparison only means something for logins; a 3am
		// playback of a long queue is not anomalous.
		if eventType == "login" {
			signals = append(signals, behavioralSignal(profile, e.clock.Now())...)
		}
	}

	if eventType == "payment" {
		signals = append(signals, e.paymentSignals(ctx, profile, data)...)
	}

	result := aggregate(signals)
	e.persist(ctx, userID, eventType, data, result)

	if result.RiskLevel == RiskHigh || result.RiskLevel == RiskCritical {
		_, _ = e.trail.Log(ctx, userID, "fraud_detected", "fraud_engine", audit.Details{
			Severity: audit.Severity(result.RiskLevel),
			Category: audit.CategorySecurity,
			Metadata: map[string]string{
				"event_type": eventType,
				"risk_score": fmt.Sprintf("%.2f", result.RiskScore),
				"action":     string(result.RecommendedAction),
			},
		})
	}

	metrics.FraudAnalyses.WithLabelValues(string(result.RiskLevel)).Inc()
	metrics.FraudRiskScore.Observe(result.RiskScore)
	return result
}

func (e *Engine) safeDefault(reason string) AnalysisResult {
	return AnalysisResult{
		RiskScore:         0.8,
		RiskLevel:         RiskCritical,
		Signals:           []Signal{},
		RecommendedAction: ActionReview,
		Reasoning:         []string{"analysis degraded: " + reason},
	}
}

// velocitySignals counts same-type events per nested window, including the
// event under analysis. Concurrent writers may cause a slight undercount;
// the analysis is advisory, not a hard gate.
func (e *Engine) velocitySignals(ctx context.Context, userID, eventType string) ([]Signal, error) {
	now := e.clock.Now()
	var signals []Signal

	for _, w := range velocityWindows {
		threshold, ok := e.thresholds[w.key]
		if !ok || threshold <= 0 {
			continue
		}

		docs, err := e.store.Query(ctx, eventCollection, store.Query{
			Filters: map[string]string{"user_id": userID, "event_type": eventType},
			From:    now.Add(-w.duration),
		})
		if err != nil {
			return nil, fmt.Errorf("velocity window %s: %w", w.key, err)
		}

		count := len(docs) + 1 // the event being analyzed counts too
		if count <= threshold {
			continue
		}

		severity := SeverityHigh
		if count > 2*threshold {
			severity = SeverityCritical
		}
		confidence := float64(count) / float64(threshold)
		if confidence > 1 {
			confidence = 1
		}
		signals = append(signals, Signal{
			Type:        SignalVelocity,
			Severity:    severity,
			Confidence:  confidence,
			Description: fmt.Sprintf("%d %s events in %s (threshold %d)", count, eventType, w.key, threshold),
			Metadata:    map[string]string{"window": w.key},
		})
	}
	return signals, nil
}

func geolocationSignal(profile *BehaviorProfile, loc *Location) []Signal {
	if loc == nil || loc.Country == "" || len(profile.CommonLocations) == 0 {
		return nil
	}
	for _, known := range profile.CommonLocations {
		if known == loc.Country {
			return nil
		}
	}
	return []Signal{{
		Type:        SignalGeolocation,
		Severity:    SeverityMedium,
		Confidence:  0.6,
		Description: "request from country outside the user's common locations: " + loc.Country,
	}}
}

func deviceSignal(profile *BehaviorProfile, fingerprint string) []Signal {
	if fingerprint == "" || len(profile.TypicalDevices) == 0 {
		return nil
	}
	for _, known := range profile.TypicalDevices {
		if known == fingerprint {
			return nil
		}
	}
	return []Signal{{
		Type:        SignalDevice,
		Severity:    SeverityMedium,
		Confidence:  0.5,
		Description: "unrecognized device fingerprint",
	}}
}

func behavioralSignal(profile *BehaviorProfile, now time.Time) []Signal {
	if len(profile.TypicalLoginTimes) == 0 {
		return nil
	}
	hour := now.UTC().Hour()
	for _, typical := range profile.TypicalLoginTimes {
		diff := hourDistance(hour, typical)
		if diff <= 2 {
			return nil
		}
	}
	return []Signal{{
		Type:        SignalBehavioral,
		Severity:    SeverityLow,
		Confidence:  0.5,
		Description: fmt.Sprintf("activity at hour %02d outside the user's typical times", hour),
	}}
}

// hourDistance is the circular distance between two hours of day.
func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}

func (e *Engine) paymentSignals(ctx context.Context, profile *BehaviorProfile, data EventData) []Signal {
	var signals []Signal

	if e.payments != nil && data.PaymentMethodRef != "" {
		info, err := e.payments.PaymentMethod(ctx, data.PaymentMethodRef)
		if err != nil {
			e.logger.Warn("fraud: payment processor lookup", zap.Error(err))
		} else {
			if info.FundingType == "prepaid" {
				signals = append(signals, Signal{
					Type:        SignalPayment,
					Severity:    SeverityHigh,
					Confidence:  0.7,
					Description: "prepaid funding source",
				})
			}
			if info.VerificationStatus == "fail" {
				signals = append(signals, Signal{
					Type:        SignalPayment,
					Severity:    SeverityHigh,
					Confidence:  0.9,
					Description: "payment method failed processor verification",
				})
			}
		}
	}

	if profile != nil && profile.PaymentPatterns.AverageAmount > 0 && data.Amount > 5*profile.PaymentPatterns.AverageAmount {
		signals = append(signals, Signal{
			Type:        SignalPayment,
			Severity:    SeverityHigh,
			Confidence:  0.8,
			Description: fmt.Sprintf("amount %.2f exceeds 5x the user's average %.2f", data.Amount, profile.PaymentPatterns.AverageAmount),
		})
	}
	return signals
}

// aggregate folds signals into the severity-weighted score and maps it to
// a level and recommendation.
func aggregate(signals []Signal) AnalysisResult {
	result := AnalysisResult{
		Signals:   signals,
		Reasoning: []string{},
	}
	if result.Signals == nil {
		result.Signals = []Signal{}
	}

	var weighted, totalWeight float64
	hasCritical := false
	for _, s := range signals {
		w := s.Severity.Weight()
		weighted += s.Confidence * w
		totalWeight += w
		result.Reasoning = append(result.Reasoning, s.Description)
		if s.Severity == SeverityCritical {
			hasCritical = true
		}
	}
	if totalWeight > 0 {
		result.RiskScore = weighted / totalWeight
	}
	if result.RiskScore < 0 {
		result.RiskScore = 0
	}
	if result.RiskScore > 1 {
		result.RiskScore = 1
	}

	switch {
	case result.RiskScore >= 0.8:
		result.RiskLevel = RiskCritical
	case result.RiskScore >= 0.6:
		result.RiskLevel = RiskHigh
	case result.RiskScore >= 0.3:
		result.RiskLevel = RiskMedium
	default:
		result.RiskLevel = RiskLow
	}

	switch {
	case hasCritical || result.RiskLevel == RiskCritical:
		result.RecommendedAction = ActionBlock
	case result.RiskLevel == RiskHigh:
		result.RecommendedAction = ActionChallenge
	case result.RiskLevel == RiskMedium:
		result.RecommendedAction = ActionReview
	default:
		result.RecommendedAction = ActionAllow
	}
	return result
}

// persist appends the analysis as a FraudEvent. Failures degrade to local
// logging; the result has already been computed and is still returned.
func (e *Engine) persist(ctx context.Context, userID, eventType string, data EventData, result AnalysisResult) {
	event := Event{
		ID:                uuid.NewString(),
		UserID:            userID,
		EventType:         eventType,
		Timestamp:         e.clock.Now(),
		IPAddress:         data.IP,
		UserAgent:         data.UserAgent,
		DeviceFingerprint: data.DeviceFingerprint,
		Location:          data.Location,
		RiskScore:         result.RiskScore,
		Signals:           result.Signals,
		Action:            recordedAction(result.RecommendedAction),
	}

	body, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("fraud: marshal event", zap.Error(err))
		return
	}
	err = e.store.Put(context.WithoutCancel(ctx), eventCollection, store.Document{
		ID: event.ID,
		Indexed: map[string]string{
			"user_id":    userID,
			"event_type": eventType,
			"action":     event.Action,
		},
		At:   event.Timestamp,
		Body: body,
	})
	if err != nil {
		e.logger.Error("fraud: persist event", zap.Error(err), zap.String("user_id", userID))
	}
}

// Events returns the persisted analyses for a user, newest first.
func (e *Engine) Events(ctx context.Context, userID string, limit int) ([]Event, error) {
	docs, err := e.store.Query(ctx, eventCollection, store.Query{
		Filters: map[string]string{"user_id": userID},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query fraud events: %w", err)
	}

	events := make([]Event, 0, len(docs))
	for _, doc := range docs {
		var event Event
		if err := json.Unmarshal(doc.Body, &event); err != nil {
			return nil, fmt.Errorf("decode fraud event %s: %w", doc.ID, err)
		}
		events = append(events, event)
	}
	return events, nil
}
