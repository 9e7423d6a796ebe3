package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/customerinfo"
	"purchases/internal/types"
)

func TestRestorePostsReceiptAsRestore(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.provider.data = validReceipt(t, "pro.monthly")
	f.backend.postResult = infoFromPayload(t, "user_1", "{}")

	var got *customerinfo.CustomerInfo
	f.orch.RestoreTransactions(func(info *customerinfo.CustomerInfo, err error) {
		require.NoError(t, err)
		got = info
	})

	require.NotNil(t, got)
	assert.Equal(t, 1, f.backend.postCount)
	assert.True(t, f.backend.lastRequest.IsRestore)
	assert.NotNil(t, f.cache.CachedCustomerInfo("user_1"))
}

func TestRestoreSkipsPostWithEmptyReceiptAndValidCache(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.provider.data = validReceipt(t) // no transactions
	cached := infoFromPayload(t, "user_1", "{}")
	require.NoError(t, f.cache.CacheCustomerInfo("user_1", cached))

	var got *customerinfo.CustomerInfo
	f.orch.RestoreTransactions(func(info *customerinfo.CustomerInfo, err error) {
		require.NoError(t, err)
		got = info
	})

	require.NotNil(t, got)
	assert.True(t, cached.Equal(got))
	assert.Zero(t, f.backend.postCount)
	assert.Zero(t, f.provider.refreshes)
}

func TestRestoreRefreshesWhenNoHistoryAnywhere(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.provider.data = validReceipt(t) // no transactions, no cache either
	f.backend.postResult = infoFromPayload(t, "user_1", "{}")

	f.orch.RestoreTransactions(func(info *customerinfo.CustomerInfo, err error) {
		require.NoError(t, err)
	})

	assert.Equal(t, 1, f.provider.refreshes)
	assert.Equal(t, 1, f.backend.postCount)
}

func TestRestoreGuardRejectsConcurrentCall(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.provider.data = validReceipt(t, "pro.monthly")
	f.backend.postResult = infoFromPayload(t, "user_1", "{}")

	// Re-enter from inside the backend post by flipping the guard manually.
	f.orch.mu.Lock()
	f.orch.restoreInFlight = true
	f.orch.mu.Unlock()

	var got error
	f.orch.RestoreTransactions(func(_ *customerinfo.CustomerInfo, err error) { got = err })
	assert.Equal(t, types.ErrOperationAlreadyInProgress, types.CodeOf(got))
	assert.Zero(t, f.backend.postCount)

	f.orch.mu.Lock()
	f.orch.restoreInFlight = false
	f.orch.mu.Unlock()
	f.orch.RestoreTransactions(func(_ *customerinfo.CustomerInfo, err error) { got = err })
	assert.NoError(t, got)
}

func TestCustomerInfoServedFromFreshCache(t *testing.T) {
	f := newFixture(t, defaultOptions())
	cached := infoFromPayload(t, "user_1", "{}")
	require.NoError(t, f.cache.CacheCustomerInfo("user_1", cached))

	f.orch.CustomerInfo(true, func(info *customerinfo.CustomerInfo, err error) {
		require.NoError(t, err)
		assert.True(t, cached.Equal(info))
	})
}

func TestCustomerInfoResyncsWhenInvalidated(t *testing.T) {
	f := newFixture(t, defaultOptions())
	cached := infoFromPayload(t, "user_1", "{}")
	require.NoError(t, f.cache.CacheCustomerInfo("user_1", cached))
	f.backend.getResult = infoFromPayload(t, "user_1", `{"pro": {"expires_date": null, "product_identifier": "pro.monthly", "purchase_date": "2020-01-01T00:00:00Z"}}`)

	f.orch.InvalidateCustomerInfoCache()

	var got *customerinfo.CustomerInfo
	f.orch.CustomerInfo(true, func(info *customerinfo.CustomerInfo, err error) {
		require.NoError(t, err)
		got = info
	})
	require.NotNil(t, got)
	assert.True(t, f.backend.getResult.Equal(got))
	assert.Len(t, f.delegate.updates, 1)
}

func TestCustomerInfoFallsBackToStaleCacheOnBackendError(t *testing.T) {
	f := newFixture(t, defaultOptions())
	cached := infoFromPayload(t, "user_1", "{}")
	require.NoError(t, f.cache.CacheCustomerInfo("user_1", cached))
	f.orch.InvalidateCustomerInfoCache()
	f.backend.getErr = types.NewError(types.ErrNetwork, "offline")

	f.orch.CustomerInfo(true, func(info *customerinfo.CustomerInfo, err error) {
		require.NoError(t, err)
		assert.True(t, cached.Equal(info))
	})
}
