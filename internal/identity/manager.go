package identity

import (
	"regexp"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"purchases/internal/devicecache"
	"purchases/internal/types"
)

const anonymousIDPrefix = "$RCAnonymousID:"

var anonymousIDPattern = regexp.MustCompile(`^\$RCAnonymousID:[0-9a-f]{32}$`)

// AliasBackend is the backend operation identity transitions depend on.
type AliasBackend interface {
	CreateAlias(appUserID, newAppUserID string) error
}

// Manager owns the current app-user-id and its transitions between anonymous
// and identified states, invalidating caches on every switch.
type Manager struct {
	cache   *devicecache.DeviceCache
	backend AliasBackend

	mu               sync.Mutex
	currentAppUserID string
	attributes       map[string]string // staged subscriber attributes
}

func NewManager(cache *devicecache.DeviceCache, backend AliasBackend) *Manager {
	return &Manager{
		cache:      cache,
		backend:    backend,
		attributes: make(map[string]string),
	}
}

func generateAnonymousID() string {
	return anonymousIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsAnonymousID reports whether an app-user-id matches the anonymous pattern.
func IsAnonymousID(appUserID string) bool {
	return anonymousIDPattern.MatchString(appUserID)
}

// Configure establishes the session identity. An empty appUserID reuses the
// cached id (or a legacy-migrated one), generating a fresh anonymous id only
// when neither exists. Staged subscriber attributes are always cleared.
func (m *Manager) Configure(appUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attributes = make(map[string]string)

	if appUserID == "" {
		appUserID = m.cache.CachedAppUserID()
		if appUserID == "" {
			appUserID = m.cache.CachedLegacyAppUserID()
			if appUserID != "" {
				glog.Infof("migrating legacy app user id")
			}
		}
		if appUserID == "" {
			appUserID = generateAnonymousID()
		}
	}

	m.currentAppUserID = appUserID
	m.cache.CacheAppUserID(appUserID)
}

// CurrentAppUserID returns the active app-user-id.
func (m *Manager) CurrentAppUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentAppUserID
}

// CurrentUserIsAnonymous reports whether the active id is an anonymous one.
func (m *Manager) CurrentUserIsAnonymous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return anonymousIDPattern.MatchString(m.currentAppUserID)
}

// Identify switches to a known user id. Anonymous sessions get a backend
// alias first so prior purchases follow the user; identifying as the current
// id is a no-op with no backend call.
func (m *Manager) Identify(newAppUserID string) error {
	if newAppUserID == "" {
		return types.NewError(types.ErrInvalidAppUserID, "appUserID must not be empty")
	}

	m.mu.Lock()
	current := m.currentAppUserID
	anonymous := anonymousIDPattern.MatchString(current)
	m.mu.Unlock()

	if current == newAppUserID {
		return nil
	}

	if anonymous {
		glog.V(2).Infof("identifying anonymous user via alias")
		return m.CreateAlias(newAppUserID)
	}

	m.switchUser(current, newAppUserID)
	return nil
}

// CreateAlias links newAppUserID to the current id on the backend and adopts
// it locally on success. With no cached current id there is nothing to link,
// and the call trivially succeeds.
func (m *Manager) CreateAlias(newAppUserID string) error {
	if newAppUserID == "" {
		return types.NewError(types.ErrInvalidAppUserID, "appUserID must not be empty")
	}

	current := m.cache.CachedAppUserID()
	if current == "" {
		return nil
	}

	if err := m.backend.CreateAlias(current, newAppUserID); err != nil {
		// Identity is left unchanged on backend failure.
		return err
	}

	m.switchUser(current, newAppUserID)
	return nil
}

// Reset discards the current identity and generates a fresh anonymous id,
// regardless of prior state.
func (m *Manager) Reset() {
	m.mu.Lock()
	old := m.currentAppUserID
	m.attributes = make(map[string]string)
	m.mu.Unlock()

	m.switchUser(old, generateAnonymousID())
}

func (m *Manager) switchUser(oldAppUserID, newAppUserID string) {
	m.cache.ClearCachesForAppUserID(oldAppUserID)
	m.cache.CacheAppUserID(newAppUserID)

	m.mu.Lock()
	m.currentAppUserID = newAppUserID
	m.mu.Unlock()
	glog.Infof("app user id switched")
}

// SetAttributes stages subscriber attributes to ride along with the next
// receipt post.
func (m *Manager) SetAttributes(attrs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range attrs {
		m.attributes[k] = v
	}
}

// UnsyncedAttributes returns the staged attributes.
func (m *Manager) UnsyncedAttributes() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.attributes))
	for k, v := range m.attributes {
		out[k] = v
	}
	return out
}

// MarkAttributesSynced drops staged attributes once posted.
func (m *Manager) MarkAttributesSynced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributes = make(map[string]string)
}
