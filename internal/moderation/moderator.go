package moderation

import (
	"context"
	"errors"
	"strings"

	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/CloudReel/sentinel/internal/platform"
	"go.uber.org/zap"
)

// Action is the moderator's suggested handling of a submission.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionReject  Action = "reject"
	ActionFlag    Action = "flag"
)

// Content categories a detector can raise.
const (
	CategorySpam          = "spam"
	CategoryBannedTerm    = "banned_term"
	CategoryPersonalInfo  = "personal_info"
	CategoryExternalLink  = "external_link"
	CategoryToxicity      = "toxicity"
	CategoryLength        = "length"
	CategoryAdult         = "adult"
	CategoryViolence      = "violence"
	CategoryInappropriate = "inappropriate"
)

// criticalCategories force rejection regardless of confidence.
var criticalCategories = map[string]bool{
	CategoryPersonalInfo: true,
	CategoryAdult:        true,
	CategoryViolence:     true,
}

// Result is the outcome of moderating one submission. Not persisted
// directly: it surfaces into fraud signals and audit events when it
// triggers a violation.
type Result struct {
	Approved           bool     `json:"approved"`
	Confidence         float64  `json:"confidence"`
	Reasons            []string `json:"reasons"`
	DetectedCategories []string `json:"detectedCategories"`
	SuggestedAction    Action   `json:"suggestedAction"`
	FilteredContent    string   `json:"filteredContent,omitempty"`
}

// finding is one detector hit. The factor multiplies down the running
// confidence, which starts at 1.0.
type finding struct {
	reason   string
	category string
	factor   float64
}

// Moderator scores text and media submissions with pattern heuristics,
// delegating media to an external classifier. Detector errors fail closed:
// questionable content goes to review, never silently through.
type Moderator struct {
	cfg        config.ModerationConfig
	classifier platform.MediaClassifier
	logger     *zap.Logger
}

// NewModerator creates a moderator. The classifier may be nil when only
// text moderation is deployed; media submissions then fail closed.
func NewModerator(cfg config.ModerationConfig, classifier platform.MediaClassifier, logger *zap.Logger) *Moderator {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 5000
	}
	return &Moderator{cfg: cfg, classifier: classifier, logger: logger}
}

// Moderate scores a submission. contentType is one of text, image, video,
// audio; for media, content is a reference the classifier can resolve.
func (m *Moderator) Moderate(ctx context.Context, content, contentType, userID string) Result {
	var findings []finding
	filtered := content

	switch contentType {
	case "text":
		findings, filtered = m.moderateText(content)
	case "image", "video", "audio":
		var err error
		findings, err = m.moderateMedia(ctx, content, contentType)
		if err != nil {
			m.logger.Error("moderation: classifier error, failing closed",
				zap.Error(err), zap.String("user_id", userID), zap.String("content_type", contentType))
			return failClosed("classifier unavailable")
		}
	default:
		return failClosed("unknown content type: " + contentType)
	}

	result := scoreFindings(findings)
	if result.FilteredContent == "" && filtered != content {
		result.FilteredContent = filtered
	}
	metrics.ModerationActions.WithLabelValues(string(result.SuggestedAction)).Inc()
	return result
}

func failClosed(reason string) Result {
	return Result{
		Approved:           false,
		Confidence:         0,
		Reasons:            []string{reason},
		DetectedCategories: []string{},
		SuggestedAction:    ActionReview,
	}
}

// scoreFindings folds detector hits into the banded final result.
func scoreFindings(findings []finding) Result {
	confidence := 1.0
	result := Result{
		Reasons:            []string{},
		DetectedCategories: []string{},
	}

	seen := map[string]bool{}
	critical := false
	for _, f := range findings {
		confidence *= f.factor
		result.Reasons = append(result.Reasons, f.reason)
		if !seen[f.category] {
			seen[f.category] = true
			result.DetectedCategories = append(result.DetectedCategories, f.category)
		}
		if criticalCategories[f.category] {
			critical = true
		}
	}
	result.Confidence = confidence

	switch {
	case critical:
		result.SuggestedAction = ActionReject
	case confidence < 0.3:
		result.SuggestedAction = ActionReject
	case confidence < 0.6:
		result.SuggestedAction = ActionReview
	case confidence < 0.8:
		result.SuggestedAction = ActionFlag
		result.Approved = true
	default:
		result.SuggestedAction = ActionApprove
		result.Approved = true
	}
	return result
}

// moderateMedia delegates to the external classifier and maps score
// thresholds onto categories.
func (m *Moderator) moderateMedia(ctx context.Context, contentRef, contentType string) ([]finding, error) {
	if m.classifier == nil {
		return nil, errNoClassifier
	}
	scores, err := m.classifier.Classify(ctx, contentRef, contentType)
	if err != nil {
		return nil, err
	}

	var findings []finding
	if scores.Inappropriate > 0.8 {
		findings = append(findings, finding{"classifier flagged inappropriate content", CategoryInappropriate, 1 - scores.Inappropriate})
	}
	if scores.Violence > 0.7 {
		findings = append(findings, finding{"classifier flagged violent content", CategoryViolence, 1 - scores.Violence})
	}
	if scores.Adult > 0.9 {
		findings = append(findings, finding{"classifier flagged adult content", CategoryAdult, 1 - scores.Adult})
	}
	if scores.Spam > 0.8 {
		findings = append(findings, finding{"classifier flagged spam content", CategorySpam, 1 - scores.Spam})
	}
	return findings, nil
}

var errNoClassifier = errors.New("moderation: no media classifier configured")

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
