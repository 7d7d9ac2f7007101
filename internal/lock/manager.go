package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/settings"
	log "github.com/sirupsen/logrus"
)

// ErrLocked is returned when another holder owns the policy lock.
var ErrLocked = errors.New("lock: policy currently locked")

// keyPrefix namespaces policy locks in the shared store.
const keyPrefix = "enterprise_access:policy_lock:"

// Token identifies one successful acquisition.
type Token string

// Manager grants non-blocking, expiring locks keyed by policy identity.
type Manager struct {
	store      Store
	defaultTTL time.Duration
}

// NewManager constructs a Manager. defaultTTL is used when the
// POLICY_LOCK_TTL_SECONDS setting is absent; zero selects the built-in default.
func NewManager(store Store, defaultTTL time.Duration) *Manager {
	if store == nil {
		return nil
	}
	if defaultTTL <= 0 {
		defaultTTL = settings.DefaultPolicyLockTTLSeconds * time.Second
	}
	return &Manager{store: store, defaultTTL: defaultTTL}
}

// TTL returns the expiry applied to new locks.
func (m *Manager) TTL() time.Duration {
	return settings.Seconds(settings.PolicyLockTTLSecondsKey, int(m.defaultTTL/time.Second))
}

func lockKey(policyUUID uuid.UUID) string {
	return keyPrefix + policyUUID.String()
}

// Acquire takes the lock for policyUUID without waiting.
// It returns ErrLocked when the lock is already held.
func (m *Manager) Acquire(ctx context.Context, policyUUID uuid.UUID) (Token, error) {
	if m == nil {
		return "", errors.New("lock: nil manager")
	}
	token := Token(uuid.NewString())
	ok, err := m.store.SetIfAbsent(ctx, lockKey(policyUUID), string(token), m.TTL())
	if err != nil {
		return "", fmt.Errorf("lock: acquire %s: %w", policyUUID, err)
	}
	if !ok {
		return "", ErrLocked
	}
	return token, nil
}

// Release gives up a lock obtained from Acquire. Releasing a lock that is not
// held, or that is now held by someone else, is a no-op.
func (m *Manager) Release(ctx context.Context, policyUUID uuid.UUID, token Token) error {
	if m == nil || token == "" {
		return nil
	}
	if err := m.store.DeleteIfValue(ctx, lockKey(policyUUID), string(token)); err != nil {
		return fmt.Errorf("lock: release %s: %w", policyUUID, err)
	}
	return nil
}

// WithLock runs fn while holding the policy lock and releases it on every
// exit path, including panics.
func (m *Manager) WithLock(ctx context.Context, policyUUID uuid.UUID, fn func(ctx context.Context) error) error {
	token, err := m.Acquire(ctx, policyUUID)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if errRelease := m.Release(releaseCtx, policyUUID, token); errRelease != nil {
			log.WithError(errRelease).WithField("policy_uuid", policyUUID.String()).Warn("policy lock release failed")
		}
	}()
	return fn(ctx)
}
