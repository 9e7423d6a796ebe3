package devicecache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/customerinfo"
)

const subscriberPayload = `{
	"request_date": "2019-08-16T10:30:42Z",
	"subscriber": {
		"original_app_user_id": "user_1",
		"first_seen": "2019-06-17T16:05:33Z",
		"subscriptions": {},
		"entitlements": {}
	}
}`

func parsedInfo(t *testing.T) *customerinfo.CustomerInfo {
	t.Helper()
	info, err := customerinfo.Parse([]byte(subscriberPayload))
	require.NoError(t, err)
	return info
}

func TestCustomerInfoRoundTrip(t *testing.T) {
	cache := New(NewMemoryStore())
	info := parsedInfo(t)

	require.NoError(t, cache.CacheCustomerInfo("user_1", info))

	loaded := cache.CachedCustomerInfo("user_1")
	require.NotNil(t, loaded)
	assert.True(t, info.Equal(loaded))

	assert.Nil(t, cache.CachedCustomerInfo("someone_else"))
}

func TestSchemaVersionMismatchIsCacheMiss(t *testing.T) {
	kv := NewMemoryStore()
	cache := New(kv)

	// Simulate a blob written by an older SDK with a stale schema version.
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(subscriberPayload), &obj))
	obj["schema_version"] = customerinfo.SchemaVersion - 1
	blob, err := json.Marshal(obj)
	require.NoError(t, err)
	require.NoError(t, kv.Set(subscriberKey("user_1"), string(blob), 0))

	assert.Nil(t, cache.CachedCustomerInfo("user_1"))

	// Missing schema version behaves the same way.
	require.NoError(t, kv.Set(subscriberKey("user_1"), subscriberPayload, 0))
	assert.Nil(t, cache.CachedCustomerInfo("user_1"))
}

func TestCustomerInfoStaleness(t *testing.T) {
	cache := New(NewMemoryStore())
	now := time.Now()
	cache.now = func() time.Time { return now }

	// No cache yet: always stale.
	assert.True(t, cache.IsCustomerInfoCacheStale("user_1", true))
	assert.True(t, cache.IsCustomerInfoCacheStale("user_1", false))

	require.NoError(t, cache.CacheCustomerInfo("user_1", parsedInfo(t)))
	assert.False(t, cache.IsCustomerInfoCacheStale("user_1", true))

	// Past the foreground threshold but inside the background one.
	cache.now = func() time.Time { return now.Add(10 * time.Minute) }
	assert.True(t, cache.IsCustomerInfoCacheStale("user_1", true))
	assert.False(t, cache.IsCustomerInfoCacheStale("user_1", false))

	cache.now = func() time.Time { return now.Add(26 * time.Hour) }
	assert.True(t, cache.IsCustomerInfoCacheStale("user_1", false))
}

func TestOfferingsTimestampIndependent(t *testing.T) {
	cache := New(NewMemoryStore())
	now := time.Now()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.CacheCustomerInfo("user_1", parsedInfo(t)))
	require.NoError(t, cache.CacheOfferings("user_1", []byte(`{"offerings": []}`)))

	assert.False(t, cache.IsCustomerInfoCacheStale("user_1", true))
	assert.False(t, cache.IsOfferingsCacheStale("user_1"))

	// Invalidating offerings must not invalidate customer info, and vice versa.
	cache.ClearOfferingsCacheTimestamp("user_1")
	assert.True(t, cache.IsOfferingsCacheStale("user_1"))
	assert.False(t, cache.IsCustomerInfoCacheStale("user_1", true))

	require.NoError(t, cache.CacheOfferings("user_1", []byte(`{"offerings": []}`)))
	cache.ClearCustomerInfoCacheTimestamp("user_1")
	assert.True(t, cache.IsCustomerInfoCacheStale("user_1", true))
	assert.False(t, cache.IsOfferingsCacheStale("user_1"))
}

func TestClearCachesForAppUserID(t *testing.T) {
	cache := New(NewMemoryStore())

	require.NoError(t, cache.CacheCustomerInfo("old_user", parsedInfo(t)))
	require.NoError(t, cache.CacheCustomerInfo("other_user", parsedInfo(t)))
	cache.CacheAppUserID("old_user")

	cache.ClearCachesForAppUserID("old_user")

	assert.Empty(t, cache.CachedAppUserID())
	assert.Nil(t, cache.CachedCustomerInfo("old_user"))
	// Other users' caches survive an identity switch.
	assert.NotNil(t, cache.CachedCustomerInfo("other_user"))
}
