package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const revokedSessionsCollection = "revoked_sessions"

// SessionRevoker publishes per-user session revocations to the document
// store. The streaming gateways poll LastRevocation when validating a
// session: any session issued before the latest revocation is dead.
type SessionRevoker struct {
	store  store.DocumentStore
	logger *zap.Logger
	clock  clock.Clock
}

func NewSessionRevoker(docs store.DocumentStore, logger *zap.Logger, clk clock.Clock) *SessionRevoker {
	if clk == nil {
		clk = clock.Real()
	}
	return &SessionRevoker{store: docs, logger: logger, clock: clk}
}

type sessionRevocation struct {
	UserID    string    `json:"userId"`
	RevokedAt time.Time `json:"revokedAt"`
}

// InvalidateSessions records a revocation for every session the user holds.
func (r *SessionRevoker) InvalidateSessions(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	now := r.clock.Now()
	body, err := json.Marshal(sessionRevocation{UserID: userID, RevokedAt: now})
	if err != nil {
		return fmt.Errorf("marshal revocation: %w", err)
	}
	err = r.store.Put(ctx, revokedSessionsCollection, store.Document{
		ID:      uuid.New().String(),
		Indexed: map[string]string{"user_id": userID},
		At:      now,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("record session revocation for %s: %w", userID, err)
	}
	r.logger.Info("user sessions invalidated", zap.String("user_id", userID))
	return nil
}

// LastRevocation returns the time of the user's most recent revocation.
// ok is false when the user has never been revoked.
func (r *SessionRevoker) LastRevocation(ctx context.Context, userID string) (at time.Time, ok bool, err error) {
	docs, err := r.store.Query(ctx, revokedSessionsCollection, store.Query{
		Filters: map[string]string{"user_id": userID},
		Limit:   1,
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query revocations for %s: %w", userID, err)
	}
	if len(docs) == 0 {
		return time.Time{}, false, nil
	}
	var rev sessionRevocation
	if err := json.Unmarshal(docs[0].Body, &rev); err != nil {
		return time.Time{}, false, fmt.Errorf("decode revocation %s: %w", docs[0].ID, err)
	}
	return rev.RevokedAt, true, nil
}
