package eligibility

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/products"
	"purchases/internal/receipt"
	"purchases/internal/types"
)

type fakeProvider struct {
	data []byte
	err  error
}

func (f *fakeProvider) LoadReceipt() ([]byte, error)    { return f.data, f.err }
func (f *fakeProvider) RefreshReceipt() ([]byte, error) { return f.data, f.err }

type fakeEligibilityBackend struct {
	result map[string]types.IntroEligibilityStatus
	err    error
	calls  int
}

func (f *fakeEligibilityBackend) GetIntroEligibility(appUserID string, receiptData []byte, productIDs []string) (map[string]types.IntroEligibilityStatus, error) {
	f.calls++
	return f.result, f.err
}

func newChecker(provider *fakeProvider, backend *fakeEligibilityBackend) *Checker {
	fetcher := &syncFetcher{catalog: testCatalog()}
	calc := NewCalculator(products.NewManager(fetcher, 0))
	return NewChecker(calc, backend, receipt.NewFetcher(provider))
}

func TestCheckerPrefersLocalCalculation(t *testing.T) {
	provider := &fakeProvider{data: receiptWith(t, nil)}
	backend := &fakeEligibilityBackend{}
	checker := newChecker(provider, backend)

	var got map[string]types.IntroEligibilityStatus
	checker.CheckEligibility("user_1", []string{"pro.monthly"}, func(r map[string]types.IntroEligibilityStatus) { got = r })

	assert.Equal(t, types.IntroEligibilityEligible, got["pro.monthly"])
	assert.Zero(t, backend.calls)
}

func TestCheckerFallsBackToBackendOnBadReceipt(t *testing.T) {
	provider := &fakeProvider{data: []byte("garbage")}
	backend := &fakeEligibilityBackend{
		result: map[string]types.IntroEligibilityStatus{"pro.monthly": types.IntroEligibilityIneligible},
	}
	checker := newChecker(provider, backend)

	var got map[string]types.IntroEligibilityStatus
	checker.CheckEligibility("user_1", []string{"pro.monthly"}, func(r map[string]types.IntroEligibilityStatus) { got = r })

	require.Equal(t, 1, backend.calls)
	assert.Equal(t, types.IntroEligibilityIneligible, got["pro.monthly"])
}

func TestCheckerBackendFailureYieldsEmptyResult(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("store unavailable")}
	backend := &fakeEligibilityBackend{err: fmt.Errorf("backend down")}
	checker := newChecker(provider, backend)

	called := false
	checker.CheckEligibility("user_1", []string{"pro.monthly"}, func(r map[string]types.IntroEligibilityStatus) {
		called = true
		assert.Empty(t, r)
	})
	assert.True(t, called)
	assert.Equal(t, 1, backend.calls)
}
