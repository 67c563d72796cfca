package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CloudReel/sentinel/internal/store"
)

const profileHistoryWeight = 0.9

// loadProfile returns the user's behavior profile, or nil when none exists
// yet. Absence is not an error: comparative signals are simply skipped.
func (e *Engine) loadProfile(ctx context.Context, userID string) (*BehaviorProfile, error) {
	doc, err := e.store.Get(ctx, profileCollection, userID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}

	var profile BehaviorProfile
	if err := json.Unmarshal(doc.Body, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &profile, nil
}

// UpdateProfile folds a finished session into the user's behavior profile.
// Called asynchronously after sessions end; the profile is read-mostly
// during analysis.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, session SessionSummary) error {
	profile, err := e.loadProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &BehaviorProfile{UserID: userID}
	}

	if !session.LoginTime.IsZero() {
		profile.TypicalLoginTimes = appendUniqueInt(profile.TypicalLoginTimes, session.LoginTime.UTC().Hour())
	}
	if session.Country != "" {
		profile.CommonLocations = appendUnique(profile.CommonLocations, session.Country)
	}
	if session.Device != "" {
		profile.TypicalDevices = appendUnique(profile.TypicalDevices, session.Device)
	}
	if session.Duration > 0 {
		if profile.AverageSessionDuration == 0 {
			profile.AverageSessionDuration = session.Duration
		} else {
			blended := float64(profile.AverageSessionDuration)*profileHistoryWeight +
				float64(session.Duration)*(1-profileHistoryWeight)
			profile.AverageSessionDuration = time.Duration(blended)
		}
	}
	if session.PaymentAmount > 0 {
		p := &profile.PaymentPatterns
		if p.AverageAmount == 0 {
			p.AverageAmount = session.PaymentAmount
		} else {
			p.AverageAmount = p.AverageAmount*profileHistoryWeight + session.PaymentAmount*(1-profileHistoryWeight)
		}
		p.Frequency++
		if session.PaymentMethod != "" {
			p.PreferredMethods = appendUnique(p.PreferredMethods, session.PaymentMethod)
		}
	}
	profile.LastUpdated = e.clock.Now()

	body, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", userID, err)
	}
	err = e.store.Put(ctx, profileCollection, store.Document{
		ID:      userID,
		Indexed: map[string]string{"user_id": userID},
		At:      profile.LastUpdated,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueInt(list []int, v int) []int {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
