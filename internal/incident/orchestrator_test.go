package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/keys"
	"github.com/CloudReel/sentinel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRotator struct {
	calls   int
	reasons []string
	err     error
}

func (r *fakeRotator) EmergencyRotate(_ context.Context, reason string) error {
	r.calls++
	r.reasons = append(r.reasons, reason)
	return r.err
}

type fakeBlocker struct {
	blocked   []string
	durations []time.Duration
}

func (b *fakeBlocker) Block(id string, d time.Duration) {
	b.blocked = append(b.blocked, id)
	b.durations = append(b.durations, d)
}

type fakeSessions struct {
	invalidated []string
	err         error
}

func (s *fakeSessions) InvalidateSessions(_ context.Context, userID string) error {
	s.invalidated = append(s.invalidated, userID)
	return s.err
}

type fakeAlerter struct {
	alerts []*SecurityIncident
	err    error
}

func (a *fakeAlerter) Alert(_ context.Context, inc *SecurityIncident) error {
	a.alerts = append(a.alerts, inc)
	return a.err
}

type fakeQuarantiner struct{ files []string }

func (q *fakeQuarantiner) Quarantine(_ context.Context, fileID string) error {
	q.files = append(q.files, fileID)
	return nil
}

type testHarness struct {
	orch     *Orchestrator
	clk      *clock.Fake
	rotator  *fakeRotator
	users    *fakeBlocker
	ips      *fakeBlocker
	sessions *fakeSessions
	alerter  *fakeAlerter
	files    *fakeQuarantiner
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		clk:      clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)),
		rotator:  &fakeRotator{},
		users:    &fakeBlocker{},
		ips:      &fakeBlocker{},
		sessions: &fakeSessions{},
		alerter:  &fakeAlerter{},
		files:    &fakeQuarantiner{},
	}
	deps := Deps{
		Keys:     h.rotator,
		Users:    h.users,
		IPs:      h.ips,
		Sessions: h.sessions,
		Alerts:   h.alerter,
		Files:    h.files,
	}
	h.orch = NewOrchestrator(store.NewMemoryStore(), nil, deps, zap.NewNop(), h.clk)
	return h
}

func actionsOf(names ...string) []RuleAction {
	out := make([]RuleAction, len(names))
	for i, name := range names {
		out[i] = RuleAction{Action: name}
	}
	return out
}

func TestDetect(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects incident without type or severity", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orch.Detect(ctx, &SecurityIncident{Type: "", Severity: audit.SeverityHigh})
		assert.ErrorIs(t, err, ErrInvalidIncident)
		_, err = h.orch.Detect(ctx, &SecurityIncident{Type: TypeKeyCompromise})
		assert.ErrorIs(t, err, ErrInvalidIncident)
	})

	t.Run("runs matching playbook and records each action", func(t *testing.T) {
		h := newHarness(t)
		for _, rule := range DefaultRules() {
			require.NoError(t, h.orch.AddRule(rule))
		}

		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:          TypeCredentialStuffing,
			Severity:      audit.SeverityHigh,
			Description:   "700 failed logins across 40 accounts",
			AffectedUsers: []string{"user-1", "user-2"},
			AffectedIPs:   []string{"203.0.113.7", "203.0.113.9"},
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDetected, inc.Status)
		assert.ElementsMatch(t, []string{"203.0.113.7", "203.0.113.9"}, h.ips.blocked)
		assert.ElementsMatch(t, []string{"user-1", "user-2"}, h.sessions.invalidated)
		require.Len(t, h.alerter.alerts, 1)

		require.Len(t, inc.ActionsTaken, 3)
		for _, record := range inc.ActionsTaken {
			assert.True(t, record.Success, record.Action)
		}
		assert.Contains(t, inc.ContainmentMeasures, "blocked 2 ip address(es)")
		assert.Contains(t, inc.ContainmentMeasures, "invalidated affected user sessions")

		// The record round-trips through the store.
		loaded, err := h.orch.Incident(ctx, inc.ID)
		require.NoError(t, err)
		assert.Len(t, loaded.ActionsTaken, 3)
	})

	t.Run("preserves indicators and affected systems", func(t *testing.T) {
		h := newHarness(t)
		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:            TypeDataExfiltration,
			Severity:        audit.SeverityHigh,
			AffectedSystems: []string{"cdn-edge", "billing-db"},
			Indicators:      []string{"unusual egress volume", "tor exit node"},
		})
		require.NoError(t, err)

		loaded, err := h.orch.Incident(ctx, inc.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"cdn-edge", "billing-db"}, loaded.AffectedSystems)
		assert.Equal(t, []string{"unusual egress volume", "tor exit node"}, loaded.Indicators)
	})

	t.Run("action parameters control block duration", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.orch.AddRule(&ResponseRule{
			Name:         "short ip block",
			IncidentType: TypeCredentialStuffing,
			MinSeverity:  audit.SeverityLow,
			Actions: []RuleAction{
				{Action: ActionBlockIPAddresses, Parameters: map[string]string{"block_duration": "15m"}},
			},
			Enabled: true,
		}))

		_, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:        TypeCredentialStuffing,
			Severity:    audit.SeverityMedium,
			AffectedIPs: []string{"198.51.100.4"},
		})
		require.NoError(t, err)
		require.Len(t, h.ips.durations, 1)
		assert.Equal(t, 15*time.Minute, h.ips.durations[0])
	})

	t.Run("failed action is recorded and the rest still run", func(t *testing.T) {
		h := newHarness(t)
		h.rotator.err = errors.New("key store unreachable")
		require.NoError(t, h.orch.AddRule(&ResponseRule{
			Name:         "key compromise",
			IncidentType: TypeKeyCompromise,
			MinSeverity:  audit.SeverityHigh,
			Actions:      actionsOf(ActionRotateKeys, ActionSendAlerts),
			Priority:     100,
			Enabled:      true,
		}))

		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:     TypeKeyCompromise,
			Severity: audit.SeverityCritical,
		})
		require.NoError(t, err)

		require.Len(t, inc.ActionsTaken, 2)
		assert.False(t, inc.ActionsTaken[0].Success)
		assert.Contains(t, inc.ActionsTaken[0].Error, "key store unreachable")
		assert.True(t, inc.ActionsTaken[1].Success)
		assert.Len(t, h.alerter.alerts, 1)
		assert.Empty(t, inc.ContainmentMeasures)
	})

	t.Run("rule below severity floor does not fire", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.orch.AddRule(&ResponseRule{
			Name:         "key compromise",
			IncidentType: TypeKeyCompromise,
			MinSeverity:  audit.SeverityHigh,
			Actions:      actionsOf(ActionRotateKeys),
			Priority:     100,
			Enabled:      true,
		}))

		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:     TypeKeyCompromise,
			Severity: audit.SeverityMedium,
		})
		require.NoError(t, err)
		assert.Empty(t, inc.ActionsTaken)
		assert.Zero(t, h.rotator.calls)
	})

	t.Run("disabled rule does not fire", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.orch.AddRule(&ResponseRule{
			Name:         "disabled",
			IncidentType: TypeKeyCompromise,
			MinSeverity:  audit.SeverityLow,
			Actions:      actionsOf(ActionRotateKeys),
			Enabled:      false,
		}))

		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:     TypeKeyCompromise,
			Severity: audit.SeverityCritical,
		})
		require.NoError(t, err)
		assert.Empty(t, inc.ActionsTaken)
	})

	t.Run("each matching rule runs its own actions", func(t *testing.T) {
		h := newHarness(t)
		for _, priority := range []int{100, 50} {
			require.NoError(t, h.orch.AddRule(&ResponseRule{
				Name:         "alerting",
				IncidentType: TypeDataExfiltration,
				MinSeverity:  audit.SeverityLow,
				Actions:      actionsOf(ActionSendAlerts),
				Priority:     priority,
				Enabled:      true,
			}))
		}

		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:     TypeDataExfiltration,
			Severity: audit.SeverityHigh,
		})
		require.NoError(t, err)
		assert.Len(t, inc.ActionsTaken, 2)
		assert.Len(t, h.alerter.alerts, 2)
	})

	t.Run("missing dependency records failure", func(t *testing.T) {
		h := newHarness(t)
		h.orch.actions = builtinActions(Deps{}, h.orch)
		require.NoError(t, h.orch.AddRule(&ResponseRule{
			Name:         "rotate",
			IncidentType: TypeKeyCompromise,
			MinSeverity:  audit.SeverityLow,
			Actions:      actionsOf(ActionRotateKeys),
			Enabled:      true,
		}))

		inc, err := h.orch.Detect(ctx, &SecurityIncident{
			Type:     TypeKeyCompromise,
			Severity: audit.SeverityHigh,
		})
		require.NoError(t, err)
		require.Len(t, inc.ActionsTaken, 1)
		assert.False(t, inc.ActionsTaken[0].Success)
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("walks detected to resolved", func(t *testing.T) {
		h := newHarness(t)
		inc, err := h.orch.Detect(ctx, &SecurityIncident{Type: TypeAccountTakeover, Severity: audit.SeverityHigh})
		require.NoError(t, err)

		inc, err = h.orch.UpdateStatus(ctx, inc.ID, StatusInvestigating, "reviewing session logs", "analyst-4")
		require.NoError(t, err)
		assert.Equal(t, StatusInvestigating, inc.Status)
		assert.Nil(t, inc.ResolvedAt)

		inc, err = h.orch.UpdateStatus(ctx, inc.ID, StatusContained, "", "analyst-4")
		require.NoError(t, err)

		inc, err = h.orch.UpdateStatus(ctx, inc.ID, StatusResolved, "passwords reset", "analyst-4")
		require.NoError(t, err)
		require.NotNil(t, inc.ResolvedAt)
		assert.Equal(t, h.clk.Now(), *inc.ResolvedAt)
	})

	t.Run("status change records who performed it", func(t *testing.T) {
		h := newHarness(t)
		inc, err := h.orch.Detect(ctx, &SecurityIncident{Type: TypeAccountTakeover, Severity: audit.SeverityHigh})
		require.NoError(t, err)

		inc, err = h.orch.UpdateStatus(ctx, inc.ID, StatusInvestigating, "checking device history", "analyst-7")
		require.NoError(t, err)
		require.Len(t, inc.ManualActions, 1)
		assert.Equal(t, "status_change:"+StatusInvestigating, inc.ManualActions[0].Action)
		assert.Equal(t, "analyst-7", inc.ManualActions[0].PerformedBy)
		assert.Equal(t, "checking device history", inc.ManualActions[0].Notes)
		assert.Equal(t, h.clk.Now(), inc.ManualActions[0].At)

		// The trail of manual actions accumulates and survives a reload.
		_, err = h.orch.UpdateStatus(ctx, inc.ID, StatusContained, "", "analyst-7")
		require.NoError(t, err)
		loaded, err := h.orch.Incident(ctx, inc.ID)
		require.NoError(t, err)
		require.Len(t, loaded.ManualActions, 2)
		assert.Equal(t, "analyst-7", loaded.ManualActions[1].PerformedBy)
	})

	t.Run("rejects skipping to resolved from detected", func(t *testing.T) {
		h := newHarness(t)
		inc, err := h.orch.Detect(ctx, &SecurityIncident{Type: TypeAccountTakeover, Severity: audit.SeverityHigh})
		require.NoError(t, err)

		_, err = h.orch.UpdateStatus(ctx, inc.ID, StatusResolved, "", "analyst-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("terminal status is final", func(t *testing.T) {
		h := newHarness(t)
		inc, err := h.orch.Detect(ctx, &SecurityIncident{Type: TypeAccountTakeover, Severity: audit.SeverityHigh})
		require.NoError(t, err)

		_, err = h.orch.UpdateStatus(ctx, inc.ID, StatusFalsePositive, "scanner misfire", "analyst-1")
		require.NoError(t, err)
		_, err = h.orch.UpdateStatus(ctx, inc.ID, StatusInvestigating, "", "analyst-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown incident", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orch.UpdateStatus(ctx, "no-such-incident", StatusInvestigating, "", "analyst-1")
		assert.ErrorIs(t, err, ErrIncidentNotFound)
	})
}

func TestIncidentQueries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.orch.Detect(ctx, &SecurityIncident{Type: TypePaymentFraud, Severity: audit.SeverityHigh})
	require.NoError(t, err)
	h.clk.Advance(time.Hour)
	second, err := h.orch.Detect(ctx, &SecurityIncident{Type: TypeContentAbuse, Severity: audit.SeverityMedium})
	require.NoError(t, err)

	t.Run("filters by type", func(t *testing.T) {
		got, err := h.orch.Incidents(ctx, "", TypePaymentFraud, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, first.ID, got[0].ID)
	})

	t.Run("newest first", func(t *testing.T) {
		got, err := h.orch.Incidents(ctx, StatusDetected, "", 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, second.ID, got[0].ID)
	})
}

func TestEnhancedMonitoring(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.orch.AddRule(&ResponseRule{
		Name:         "monitor",
		IncidentType: TypePaymentFraud,
		MinSeverity:  audit.SeverityLow,
		Actions:      actionsOf(ActionEnhancedMonitoring),
		Enabled:      true,
	}))

	_, err := h.orch.Detect(ctx, &SecurityIncident{
		Type:          TypePaymentFraud,
		Severity:      audit.SeverityMedium,
		AffectedUsers: []string{"user-9"},
	})
	require.NoError(t, err)

	assert.True(t, h.orch.Monitored("user-9"))
	assert.False(t, h.orch.Monitored("user-other"))

	h.clk.Advance(25 * time.Hour)
	assert.False(t, h.orch.Monitored("user-9"), "monitoring expires")
}

func TestRuleValidation(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.orch.AddRule(&ResponseRule{IncidentType: "x", Actions: actionsOf("a")}))
	assert.Error(t, h.orch.AddRule(&ResponseRule{Name: "n", Actions: actionsOf("a")}))
	assert.Error(t, h.orch.AddRule(&ResponseRule{Name: "n", IncidentType: "x"}))
	assert.Error(t, h.orch.AddRule(&ResponseRule{Name: "n", IncidentType: "x", Actions: []RuleAction{{}}}))
}

type managerRotator struct{ mgr *keys.Manager }

func (r managerRotator) EmergencyRotate(ctx context.Context, reason string) error {
	_, err := r.mgr.EmergencyRotate(ctx, reason)
	return err
}

func TestKeyCompromiseRotatesRealKeys(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	docs := store.NewMemoryStore()

	mgr, err := keys.NewManager(docs, nil, config.KeysConfig{
		MasterKeyHex:            "6368616e676520746869732070617373776f726420746f206120736563726574",
		RotationInterval:        24 * time.Hour,
		KeyLifetime:             72 * time.Hour,
		MaxActiveKeys:           2,
		EmergencyUsageThreshold: 100,
	}, zap.NewNop(), clk, nil)
	require.NoError(t, err)

	initial, err := mgr.CurrentKey(ctx)
	require.NoError(t, err)

	orch := NewOrchestrator(store.NewMemoryStore(), nil, Deps{
		Keys:   managerRotator{mgr},
		Alerts: &LogAlerter{Logger: zap.NewNop()},
	}, zap.NewNop(), clk)
	for _, rule := range DefaultRules() {
		require.NoError(t, orch.AddRule(rule))
	}

	inc, err := orch.Detect(ctx, &SecurityIncident{
		Type:        TypeKeyCompromise,
		Severity:    audit.SeverityCritical,
		Description: "signing key found in a public paste",
	})
	require.NoError(t, err)
	for _, record := range inc.ActionsTaken {
		assert.True(t, record.Success, record.Action)
	}

	active, err := mgr.ActiveKeyIDs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotContains(t, active, initial.ID, "compromised key stays revoked")
	assert.Contains(t, inc.ContainmentMeasures, "rotated signing keys")
}
