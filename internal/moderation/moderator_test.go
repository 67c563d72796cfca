package moderation

import (
	"context"
	"strings"
	"testing"

	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestModerator(classifier platform.MediaClassifier) *Moderator {
	cfg := config.ModerationConfig{
		MaxTextLength:  100,
		BannedTerms:    []string{"badword"},
		ToxicTerms:     []string{"scum", "trash", "idiot"},
		AllowedDomains: []string{"youtube.com", "twitch.tv"},
	}
	return NewModerator(cfg, classifier, zap.NewNop())
}

func TestModerateText(t *testing.T) {
	ctx := context.Background()

	t.Run("clean text approves at full confidence", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "loved the stream today, great plays", "text", "u1")

		assert.True(t, result.Approved)
		assert.Equal(t, ActionApprove, result.SuggestedAction)
		assert.Equal(t, 1.0, result.Confidence)
		assert.Empty(t, result.DetectedCategories)
	})

	t.Run("spam heuristics reject shouted promotions", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "aaaaaaaaaa SPAM CLICK HERE NOW", "text", "u1")

		assert.False(t, result.Approved)
		assert.Contains(t, result.DetectedCategories, CategorySpam)
		assert.Equal(t, ActionReject, result.SuggestedAction)
	})

	t.Run("banned terms are masked", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "you are a BadWord honestly", "text", "u1")

		assert.Contains(t, result.DetectedCategories, CategoryBannedTerm)
		assert.Equal(t, "you are a ******* honestly", result.FilteredContent)
	})

	t.Run("personal info forces reject and redacts", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "my ssn is 123-45-6789 call me", "text", "u1")

		assert.False(t, result.Approved)
		assert.Equal(t, ActionReject, result.SuggestedAction)
		assert.Contains(t, result.DetectedCategories, CategoryPersonalInfo)
		assert.NotContains(t, result.FilteredContent, "123-45-6789")
		assert.Contains(t, result.FilteredContent, "[redacted]")
	})

	t.Run("links to unapproved domains lower confidence", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "watch this https://sketchy.example.net/clip", "text", "u1")

		assert.Contains(t, result.DetectedCategories, CategoryExternalLink)
		assert.Less(t, result.Confidence, 1.0)
	})

	t.Run("allowed domains pass", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "clip here https://www.youtube.com/watch?v=x", "text", "u1")

		assert.True(t, result.Approved)
		assert.NotContains(t, result.DetectedCategories, CategoryExternalLink)
	})

	t.Run("toxic keyword density flags", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "you absolute trash idiot scum", "text", "u1")

		assert.Contains(t, result.DetectedCategories, CategoryToxicity)
		assert.False(t, result.Approved)
	})

	t.Run("overlong content is penalized", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, strings.Repeat("a good sentence ", 20), "text", "u1")

		assert.Contains(t, result.DetectedCategories, CategoryLength)
	})

	t.Run("mid confidence flags but approves", func(t *testing.T) {
		m := newTestModerator(nil)
		// Single external link: confidence 0.7, inside the flag band.
		result := m.Moderate(ctx, "see https://example.org/post", "text", "u1")

		assert.True(t, result.Approved)
		assert.Equal(t, ActionFlag, result.SuggestedAction)
	})
}

type stubClassifier struct {
	scores platform.MediaScores
	err    error
}

func (s stubClassifier) Classify(context.Context, string, string) (platform.MediaScores, error) {
	return s.scores, s.err
}

func TestModerateMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("high violence score rejects", func(t *testing.T) {
		m := newTestModerator(stubClassifier{scores: platform.MediaScores{Violence: 0.85}})
		result := m.Moderate(ctx, "video-ref-1", "video", "u1")

		assert.False(t, result.Approved)
		assert.Equal(t, ActionReject, result.SuggestedAction)
		assert.Contains(t, result.DetectedCategories, CategoryViolence)
	})

	t.Run("scores under thresholds approve", func(t *testing.T) {
		m := newTestModerator(stubClassifier{scores: platform.MediaScores{Violence: 0.5, Adult: 0.5, Inappropriate: 0.5, Spam: 0.5}})
		result := m.Moderate(ctx, "video-ref-2", "video", "u1")

		assert.True(t, result.Approved)
	})

	t.Run("classifier error fails closed", func(t *testing.T) {
		m := newTestModerator(stubClassifier{err: assert.AnError})
		result := m.Moderate(ctx, "video-ref-3", "video", "u1")

		assert.False(t, result.Approved)
		assert.Equal(t, ActionReview, result.SuggestedAction)
	})

	t.Run("missing classifier fails closed", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "image-ref", "image", "u1")

		assert.False(t, result.Approved)
		assert.Equal(t, ActionReview, result.SuggestedAction)
	})

	t.Run("unknown content type fails closed", func(t *testing.T) {
		m := newTestModerator(nil)
		result := m.Moderate(ctx, "whatever", "hologram", "u1")

		require.False(t, result.Approved)
		assert.Equal(t, ActionReview, result.SuggestedAction)
	})
}
