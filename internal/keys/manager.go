package keys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/CloudReel/sentinel/internal/store"
	"go.uber.org/zap"
)

const keyCollection = "rotation_keys"

// ErrNoActiveKey is returned when signing is attempted with no usable key
// and rotation also fails.
var ErrNoActiveKey = errors.New("keys: no active signing key")

// RotationKey is one signing key. Key material is encrypted at rest;
// KeyData is populated only on loaded copies held in memory.
type RotationKey struct {
	ID            string     `json:"id"`
	EncryptedKey  string     `json:"encryptedKey"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	IsActive      bool       `json:"isActive"`
	RotationCount int        `json:"rotationCount"`
	UsageCount    int64      `json:"usageCount"`
	LastUsed      *time.Time `json:"lastUsed,omitempty"`

	KeyData []byte `json:"-"`
}

// Manager issues, ages out, and emergency-rotates the signing keys used to
// mint time-limited playback URLs. Multiple keys may be simultaneously
// active (the overlap window) so in-flight URLs signed with the previous
// key stay valid during a transition.
type Manager struct {
	mu     sync.Mutex
	store  store.DocumentStore
	trail  *audit.Trail
	logger *zap.Logger
	clock  clock.Clock
	rand   io.Reader
	cipher *keyCipher

	rotationInterval time.Duration
	keyLifetime      time.Duration
	maxActiveKeys    int
	usageThreshold   int64
}

// NewManager creates a key manager. rnd may be nil, defaulting to
// crypto/rand.
func NewManager(docs store.DocumentStore, trail *audit.Trail, cfg config.KeysConfig, logger *zap.Logger, clk clock.Clock, rnd io.Reader) (*Manager, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	if cfg.MaxActiveKeys < 1 {
		cfg.MaxActiveKeys = 2
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = 24 * time.Hour
	}
	if cfg.KeyLifetime <= cfg.RotationInterval {
		cfg.KeyLifetime = 3 * cfg.RotationInterval
	}

	cipher, err := newKeyCipher(cfg.MasterKeyHex)
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:            docs,
		trail:            trail,
		logger:           logger,
		clock:            clk,
		rand:             rnd,
		cipher:           cipher,
		rotationInterval: cfg.RotationInterval,
		keyLifetime:      cfg.KeyLifetime,
		maxActiveKeys:    cfg.MaxActiveKeys,
		usageThreshold:   cfg.EmergencyUsageThreshold,
	}, nil
}

// CurrentKey returns the most recent active key, lazily rotating first if
// that key is over age, over its usage threshold, or past expiry.
func (m *Manager) CurrentKey(ctx context.Context) (*RotationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentKeyLocked(ctx)
}

func (m *Manager) currentKeyLocked(ctx context.Context) (*RotationKey, error) {
	active, err := m.activeKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return m.rotateLocked(ctx, "initial")
	}

	newest := active[0]
	now := m.clock.Now()
	stale := now.Sub(newest.CreatedAt) > m.rotationInterval ||
		now.After(newest.ExpiresAt) ||
		(m.usageThreshold > 0 && newest.UsageCount >= m.usageThreshold)
	if stale {
		return m.rotateLocked(ctx, "scheduled")
	}
	return newest, nil
}

// Rotate generates a new key, deactivates active keys beyond the overlap
// count (oldest first), and logs a rotation event.
func (m *Manager) Rotate(ctx context.Context) (*RotationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked(ctx, "scheduled")
}

func (m *Manager) rotateLocked(ctx context.Context, reason string) (*RotationKey, error) {
	active, err := m.activeKeys(ctx)
	if err != nil {
		return nil, err
	}

	generation := 0
	for _, k := range active {
		if k.RotationCount >= generation {
			generation = k.RotationCount + 1
		}
	}

	key, err := m.generateKey(ctx, generation)
	if err != nil {
		return nil, err
	}

	// Keep the newest maxActiveKeys including the fresh one; deactivate
	// the rest, oldest first.
	keep := m.maxActiveKeys - 1
	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(active); i++ {
		if err := m.deactivate(ctx, active[i]); err != nil {
			return nil, err
		}
	}

	metrics.KeyRotations.WithLabelValues(reason).Inc()
	m.auditLog(ctx, "key_rotate", audit.Details{
		ResourceID: key.ID,
		Metadata:   map[string]string{"reason": reason, "generation": fmt.Sprintf("%d", generation)},
	})
	m.logger.Info("signing key rotated",
		zap.String("key_id", key.ID),
		zap.String("reason", reason))
	return key, nil
}

// EmergencyRotate immediately deactivates every active key, with no
// overlap window, and issues a fresh one. URLs signed before the call stop
// validating.
func (m *Manager) EmergencyRotate(ctx context.Context, reason string) (*RotationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.activeKeys(ctx)
	if err != nil {
		return nil, err
	}

	generation := 0
	for _, k := range active {
		if k.RotationCount >= generation {
			generation = k.RotationCount + 1
		}
	}

	// Mint the replacement before revoking anything, so a store failure
	// partway through never leaves the system with zero active keys.
	key, err := m.generateKey(ctx, generation)
	if err != nil {
		return nil, err
	}
	for _, k := range active {
		if err := m.deactivate(ctx, k); err != nil {
			return nil, err
		}
	}

	metrics.KeyRotations.WithLabelValues("emergency").Inc()
	m.auditLog(ctx, "key_rotate_emergency", audit.Details{
		ResourceID: key.ID,
		Severity:   audit.SeverityCritical,
		Category:   audit.CategorySecurity,
		Metadata:   map[string]string{"reason": reason},
	})
	m.logger.Error("emergency key rotation",
		zap.String("key_id", key.ID),
		zap.String("reason", reason),
		zap.Int("keys_revoked", len(active)))
	return key, nil
}

// CleanupExpired purges keys whose expiry has passed. Running it twice
// with no new expirations is a no-op the second time.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, err := m.store.Query(ctx, keyCollection, store.Query{})
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	now := m.clock.Now()
	purged := 0
	for _, doc := range docs {
		var key RotationKey
		if err := json.Unmarshal(doc.Body, &key); err != nil {
			return purged, fmt.Errorf("decode key %s: %w", doc.ID, err)
		}
		if now.After(key.ExpiresAt) {
			if err := m.store.Delete(ctx, keyCollection, key.ID); err != nil {
				return purged, fmt.Errorf("purge key %s: %w", key.ID, err)
			}
			purged++
		}
	}
	return purged, nil
}

// ActiveKeyIDs returns the ids of currently active keys, newest first.
func (m *Manager) ActiveKeyIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.activeKeys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(active))
	for i, k := range active {
		ids[i] = k.ID
	}
	return ids, nil
}

// activeKeys loads and decrypts active keys, newest first.
func (m *Manager) activeKeys(ctx context.Context) ([]*RotationKey, error) {
	docs, err := m.store.Query(ctx, keyCollection, store.Query{
		Filters: map[string]string{"active": "true"},
	})
	if err != nil {
		return nil, fmt.Errorf("query active keys: %w", err)
	}

	keys := make([]*RotationKey, 0, len(docs))
	for _, doc := range docs {
		key, err := m.decode(doc)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (m *Manager) generateKey(ctx context.Context, generation int) (*RotationKey, error) {
	material := make([]byte, 32)
	if _, err := io.ReadFull(m.rand, material); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	suffix := make([]byte, 4)
	if _, err := io.ReadFull(m.rand, suffix); err != nil {
		return nil, fmt.Errorf("generate key id: %w", err)
	}

	encrypted, err := m.cipher.encrypt(material)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	key := &RotationKey{
		ID:            fmt.Sprintf("key-%d-%s", generation, hex.EncodeToString(suffix)),
		EncryptedKey:  encrypted,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.keyLifetime),
		IsActive:      true,
		RotationCount: generation,
		KeyData:       material,
	}
	if err := m.save(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) deactivate(ctx context.Context, key *RotationKey) error {
	key.IsActive = false
	return m.save(ctx, key)
}

func (m *Manager) save(ctx context.Context, key *RotationKey) error {
	body, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal key %s: %w", key.ID, err)
	}
	err = m.store.Put(ctx, keyCollection, store.Document{
		ID:      key.ID,
		Indexed: map[string]string{"active": fmt.Sprintf("%t", key.IsActive)},
		At:      key.CreatedAt,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("save key %s: %w", key.ID, err)
	}
	return nil
}

func (m *Manager) decode(doc store.Document) (*RotationKey, error) {
	var key RotationKey
	if err := json.Unmarshal(doc.Body, &key); err != nil {
		return nil, fmt.Errorf("decode key %s: %w", doc.ID, err)
	}
	material, err := m.cipher.decrypt(key.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt key %s: %w", key.ID, err)
	}
	key.KeyData = material
	return &key, nil
}

func (m *Manager) auditLog(ctx context.Context, action string, details audit.Details) {
	if m.trail == nil {
		return
	}
	_, _ = m.trail.Log(ctx, "system", action, "signing_keys", details)
}

// loadKey fetches one key by id, active or not.
func (m *Manager) loadKey(ctx context.Context, id string) (*RotationKey, error) {
	doc, err := m.store.Get(ctx, keyCollection, id)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", id, err)
	}
	return m.decode(doc)
}
