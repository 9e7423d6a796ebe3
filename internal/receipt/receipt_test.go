package receipt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/types"
)

type fakeProvider struct {
	local     []byte
	refreshed []byte
	refreshes int
	loads     int
}

func (p *fakeProvider) LoadReceipt() ([]byte, error) {
	p.loads++
	return p.local, nil
}

func (p *fakeProvider) RefreshReceipt() ([]byte, error) {
	p.refreshes++
	return p.refreshed, nil
}

const sampleReceipt = `{
	"bundle_id": "com.example.app",
	"application_version": "42",
	"in_app": [
		{"product_id": "pro.monthly", "original_transaction_id": "1000001", "purchase_date": "2019-07-26T23:45:40Z", "is_in_intro_offer_period": true},
		{"product_id": "pro.monthly", "original_transaction_id": "1000001", "purchase_date": "2019-08-26T23:45:40Z"},
		{"product_id": "coins.100", "original_transaction_id": "1000002", "purchase_date": "2019-07-27T10:00:00Z"}
	]
}`

func TestFetcherRefreshPolicies(t *testing.T) {
	blob := []byte(sampleReceipt)

	t.Run("never", func(t *testing.T) {
		p := &fakeProvider{local: blob}
		f := NewFetcher(p)
		data, err := f.ReceiptData(types.RefreshNever)
		require.NoError(t, err)
		assert.Equal(t, blob, data)
		assert.Equal(t, 0, p.refreshes)
	})

	t.Run("only if empty, receipt present", func(t *testing.T) {
		p := &fakeProvider{local: blob, refreshed: []byte("fresh")}
		f := NewFetcher(p)
		data, err := f.ReceiptData(types.RefreshOnlyIfEmpty)
		require.NoError(t, err)
		assert.Equal(t, blob, data)
		assert.Equal(t, 0, p.refreshes)
	})

	t.Run("only if empty, receipt missing", func(t *testing.T) {
		p := &fakeProvider{refreshed: blob}
		f := NewFetcher(p)
		data, err := f.ReceiptData(types.RefreshOnlyIfEmpty)
		require.NoError(t, err)
		assert.Equal(t, blob, data)
		assert.Equal(t, 1, p.refreshes)
	})

	t.Run("always", func(t *testing.T) {
		p := &fakeProvider{local: blob, refreshed: []byte("fresh")}
		f := NewFetcher(p)
		data, err := f.ReceiptData(types.RefreshAlways)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), data)
		assert.Equal(t, 0, p.loads)
	})
}

func TestParsePlainAndBase64(t *testing.T) {
	plain, err := Parse([]byte(sampleReceipt))
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString([]byte(sampleReceipt))
	wrapped, err := Parse([]byte(encoded))
	require.NoError(t, err)

	assert.Equal(t, plain.BundleID, wrapped.BundleID)
	assert.Len(t, plain.InAppPurchases, 3)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not a receipt"))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidReceipt, types.CodeOf(err))

	_, err = Parse(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingReceiptFile, types.CodeOf(err))
}

func TestReceiptDerivedIdentifiers(t *testing.T) {
	r, err := Parse([]byte(sampleReceipt))
	require.NoError(t, err)

	assert.True(t, r.HasTransactions())
	assert.ElementsMatch(t, []string{"pro.monthly", "coins.100"}, r.PurchasedProductIdentifiers())
	assert.Equal(t, []string{"pro.monthly"}, r.ProductsWithIntroOffersConsumed())
}
