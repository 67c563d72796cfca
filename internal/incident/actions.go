package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// KeyRotator is the slice of the key manager incident response needs.
type KeyRotator interface {
	EmergencyRotate(ctx context.Context, reason string) error
}

// Blocker denies an identifier (user id or IP) for a duration. Zero means
// until manually unblocked.
type Blocker interface {
	Block(identifier string, d time.Duration)
}

// SessionInvalidator revokes every active session for a user.
type SessionInvalidator interface {
	InvalidateSessions(ctx context.Context, userID string) error
}

// Alerter delivers an incident notification to the on-call channel.
type Alerter interface {
	Alert(ctx context.Context, inc *SecurityIncident) error
}

// Quarantiner isolates uploaded files pending review.
type Quarantiner interface {
	Quarantine(ctx context.Context, fileID string) error
}

// Deps holds the systems response actions operate on. Any nil dependency
// makes its action report failure instead of panicking.
type Deps struct {
	Keys     KeyRotator
	Users    Blocker
	IPs      Blocker
	Sessions SessionInvalidator
	Alerts   Alerter
	Files    Quarantiner
}

// ActionFunc executes one response step against an incident. params come
// from the rule's action entry and may be empty.
type ActionFunc func(ctx context.Context, inc *SecurityIncident, params map[string]string) error

var errNotConfigured = errors.New("action dependency not configured")

// blockDuration reads the "block_duration" parameter, falling back to def.
func blockDuration(params map[string]string, def time.Duration) time.Duration {
	if v := params["block_duration"]; v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// builtinActions wires the named playbook actions to their systems.
func builtinActions(d Deps, o *Orchestrator) map[string]ActionFunc {
	return map[string]ActionFunc{
		ActionBlockUserAccount: func(ctx context.Context, inc *SecurityIncident, params map[string]string) error {
			if d.Users == nil {
				return errNotConfigured
			}
			if len(inc.AffectedUsers) == 0 {
				return errors.New("no affected users on incident")
			}
			for _, userID := range inc.AffectedUsers {
				d.Users.Block(userID, blockDuration(params, 0))
			}
			return nil
		},
		ActionRotateKeys: func(ctx context.Context, inc *SecurityIncident, _ map[string]string) error {
			if d.Keys == nil {
				return errNotConfigured
			}
			return d.Keys.EmergencyRotate(ctx, fmt.Sprintf("incident %s (%s)", inc.ID, inc.Type))
		},
		ActionBlockIPAddresses: func(ctx context.Context, inc *SecurityIncident, params map[string]string) error {
			if d.IPs == nil {
				return errNotConfigured
			}
			if len(inc.AffectedIPs) == 0 {
				return errors.New("no affected ips on incident")
			}
			for _, ip := range inc.AffectedIPs {
				d.IPs.Block(ip, blockDuration(params, 24*time.Hour))
			}
			return nil
		},
		ActionInvalidateSessions: func(ctx context.Context, inc *SecurityIncident, _ map[string]string) error {
			if d.Sessions == nil {
				return errNotConfigured
			}
			var firstErr error
			for _, userID := range inc.AffectedUsers {
				if err := d.Sessions.InvalidateSessions(ctx, userID); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
		ActionEnhancedMonitoring: func(ctx context.Context, inc *SecurityIncident, _ map[string]string) error {
			o.enableMonitoring(inc)
			return nil
		},
		ActionSendAlerts: func(ctx context.Context, inc *SecurityIncident, _ map[string]string) error {
			if d.Alerts == nil {
				return errNotConfigured
			}
			return d.Alerts.Alert(ctx, inc)
		},
		ActionQuarantineFiles: func(ctx context.Context, inc *SecurityIncident, params map[string]string) error {
			if d.Files == nil {
				return errNotConfigured
			}
			fileID := params["file_id"]
			if fileID == "" {
				fileID = inc.Metadata["file_id"]
			}
			if fileID == "" {
				return errors.New("no file_id on incident metadata")
			}
			return d.Files.Quarantine(ctx, fileID)
		},
	}
}

// LogAlerter is the fallback Alerter: it writes the notification to the
// service log. Real deployments swap in a pager or webhook sender.
type LogAlerter struct {
	Logger *zap.Logger
}

func (a *LogAlerter) Alert(_ context.Context, inc *SecurityIncident) error {
	a.Logger.Warn("security incident alert",
		zap.String("incident_id", inc.ID),
		zap.String("type", inc.Type),
		zap.String("severity", string(inc.Severity)),
		zap.String("description", inc.Description))
	return nil
}
