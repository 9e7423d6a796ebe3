package offerings

import (
	"encoding/json"

	"github.com/golang/glog"

	"purchases/internal/devicecache"
	"purchases/internal/products"
	"purchases/internal/store"
	"purchases/internal/types"
)

// OfferingsBackend fetches the raw offerings configuration.
type OfferingsBackend interface {
	GetOfferings(appUserID string) (json.RawMessage, error)
}

// Manager serves assembled offerings, preferring the device cache while it is
// fresh and falling back to a backend fetch plus store product resolution.
type Manager struct {
	backend  OfferingsBackend
	cache    *devicecache.DeviceCache
	products *products.Manager
}

func NewManager(backend OfferingsBackend, cache *devicecache.DeviceCache, productsManager *products.Manager) *Manager {
	return &Manager{
		backend:  backend,
		cache:    cache,
		products: productsManager,
	}
}

// Offerings resolves the offerings container for an app-user-id. A fresh
// cached payload skips the backend round-trip; stale or missing payloads are
// refetched. A cached payload that no longer assembles (products withdrawn
// from sale, say) falls through to a refetch.
func (m *Manager) Offerings(appUserID string, completion func(*Offerings, error)) {
	if cached := m.cache.CachedOfferings(appUserID); cached != nil && !m.cache.IsOfferingsCacheStale(appUserID) {
		m.assemble(cached, func(offerings *Offerings, err error) {
			if err == nil && offerings != nil {
				completion(offerings, nil)
				return
			}
			glog.V(2).Info("cached offerings unusable, refetching")
			m.fetchAndAssemble(appUserID, completion)
		})
		return
	}
	m.fetchAndAssemble(appUserID, completion)
}

// InvalidateCache forces the next Offerings call to hit the backend.
func (m *Manager) InvalidateCache(appUserID string) {
	m.cache.ClearOfferingsCacheTimestamp(appUserID)
}

func (m *Manager) fetchAndAssemble(appUserID string, completion func(*Offerings, error)) {
	raw, err := m.backend.GetOfferings(appUserID)
	if err != nil {
		completion(nil, err)
		return
	}

	m.assemble(raw, func(offerings *Offerings, err error) {
		if err != nil {
			completion(nil, err)
			return
		}
		if offerings == nil {
			completion(nil, types.NewError(types.ErrUnexpectedBackendResponse, "offerings payload malformed"))
			return
		}
		if cacheErr := m.cache.CacheOfferings(appUserID, raw); cacheErr != nil {
			glog.Warningf("failed to cache offerings: %v", cacheErr)
		}
		completion(offerings, nil)
	})
}

func (m *Manager) assemble(raw []byte, completion func(*Offerings, error)) {
	ids := ProductIdentifiers(raw)
	m.products.Products(ids, func(resolved map[string]store.Product, err error) {
		if err != nil {
			completion(nil, err)
			return
		}
		completion(CreateOfferings(raw, resolved), nil)
	})
}
