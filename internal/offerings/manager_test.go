package offerings

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/devicecache"
	"purchases/internal/products"
	"purchases/internal/store"
)

type stubRequest struct{}

func (stubRequest) Cancel() {}

type stubFetcher struct {
	catalog map[string]store.Product
	calls   int
}

func (f *stubFetcher) FetchProducts(identifiers []string, deliver func([]store.Product, error)) store.ProductsRequest {
	f.calls++
	var out []store.Product
	for _, id := range identifiers {
		if p, ok := f.catalog[id]; ok {
			out = append(out, p)
		}
	}
	deliver(out, nil)
	return stubRequest{}
}

type stubOfferingsBackend struct {
	payload json.RawMessage
	err     error
	calls   int
}

func (b *stubOfferingsBackend) GetOfferings(appUserID string) (json.RawMessage, error) {
	b.calls++
	return b.payload, b.err
}

func newOfferingsManager(backend *stubOfferingsBackend, catalog map[string]store.Product) (*Manager, *devicecache.DeviceCache, *stubFetcher) {
	cache := devicecache.New(devicecache.NewMemoryStore())
	fetcher := &stubFetcher{catalog: catalog}
	m := NewManager(backend, cache, products.NewManager(fetcher, 0))
	return m, cache, fetcher
}

func TestOfferingsFetchesAndCaches(t *testing.T) {
	backend := &stubOfferingsBackend{payload: json.RawMessage(offeringsPayload)}
	m, cache, _ := newOfferingsManager(backend, resolvedProducts("pro.monthly", "pro.annual", "pro.supporter", "holiday.monthly"))

	var got *Offerings
	m.Offerings("user_1", func(o *Offerings, err error) {
		require.NoError(t, err)
		got = o
	})

	require.NotNil(t, got)
	assert.Equal(t, "default", got.Current().Identifier)
	assert.Equal(t, 1, backend.calls)
	assert.NotNil(t, cache.CachedOfferings("user_1"))
	assert.False(t, cache.IsOfferingsCacheStale("user_1"))
}

func TestOfferingsServedFromFreshCache(t *testing.T) {
	backend := &stubOfferingsBackend{payload: json.RawMessage(offeringsPayload)}
	m, _, _ := newOfferingsManager(backend, resolvedProducts("pro.monthly", "pro.annual", "pro.supporter", "holiday.monthly"))

	m.Offerings("user_1", func(*Offerings, error) {})
	m.Offerings("user_1", func(o *Offerings, err error) {
		require.NoError(t, err)
		require.NotNil(t, o)
	})

	assert.Equal(t, 1, backend.calls)
}

func TestInvalidateCacheForcesRefetch(t *testing.T) {
	backend := &stubOfferingsBackend{payload: json.RawMessage(offeringsPayload)}
	m, _, _ := newOfferingsManager(backend, resolvedProducts("pro.monthly", "pro.annual", "pro.supporter", "holiday.monthly"))

	m.Offerings("user_1", func(*Offerings, error) {})
	m.InvalidateCache("user_1")
	m.Offerings("user_1", func(*Offerings, error) {})

	assert.Equal(t, 2, backend.calls)
}

func TestBackendErrorPropagates(t *testing.T) {
	backend := &stubOfferingsBackend{err: fmt.Errorf("offline")}
	m, _, _ := newOfferingsManager(backend, nil)

	called := false
	m.Offerings("user_1", func(o *Offerings, err error) {
		called = true
		assert.Nil(t, o)
		assert.Error(t, err)
	})
	assert.True(t, called)
}

func TestMalformedBackendPayloadIsError(t *testing.T) {
	backend := &stubOfferingsBackend{payload: json.RawMessage(`{"current_offering_id": "x"}`)}
	m, cache, _ := newOfferingsManager(backend, nil)

	m.Offerings("user_1", func(o *Offerings, err error) {
		assert.Nil(t, o)
		assert.Error(t, err)
	})
	// Malformed payloads are never cached.
	assert.Nil(t, cache.CachedOfferings("user_1"))
}

func TestStaleCacheRefetches(t *testing.T) {
	backend := &stubOfferingsBackend{payload: json.RawMessage(offeringsPayload)}
	m, cache, _ := newOfferingsManager(backend, resolvedProducts("pro.monthly", "pro.annual", "pro.supporter", "holiday.monthly"))

	m.Offerings("user_1", func(*Offerings, error) {})
	require.Equal(t, 1, backend.calls)

	// Back-date the cache stamp past the staleness threshold.
	cache.SetNowForTesting(func() time.Time {
		return time.Now().Add(devicecache.OfferingsStaleness + time.Minute)
	})
	m.Offerings("user_1", func(o *Offerings, err error) {
		require.NoError(t, err)
		require.NotNil(t, o)
	})
	assert.Equal(t, 2, backend.calls)
}
