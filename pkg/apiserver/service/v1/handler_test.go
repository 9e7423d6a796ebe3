package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emicklei/go-restful/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases"
	"purchases/internal/config"
	"purchases/internal/store"
)

// silentQueue accepts payments but never delivers a transaction update.
type silentQueue struct{}

func (silentQueue) AddPayment(store.Payment) {}

func (silentQueue) FinishTransaction(store.Transaction) {}

func (silentQueue) SetObserver(store.Observer) {}

type noRequest struct{}

func (noRequest) Cancel() {}

type catalogFetcher struct {
	catalog map[string]store.Product
}

func (f *catalogFetcher) FetchProducts(identifiers []string, deliver func([]store.Product, error)) store.ProductsRequest {
	var out []store.Product
	for _, id := range identifiers {
		if p, ok := f.catalog[id]; ok {
			out = append(out, p)
		}
	}
	deliver(out, nil)
	return noRequest{}
}

type staticReceipts struct {
	data []byte
}

func (s *staticReceipts) LoadReceipt() ([]byte, error) { return s.data, nil }

func (s *staticReceipts) RefreshReceipt() ([]byte, error) { return s.data, nil }

func newTestContainer(t *testing.T) *restful.Container {
	t.Helper()
	cfg := &config.Config{
		APIKey:             "test-key",
		SDKVersion:         "1.0.0",
		FinishTransactions: true,
	}
	client, err := purchases.Configure(cfg, purchases.Platform{
		PaymentQueue: silentQueue{},
		ProductsFetcher: &catalogFetcher{catalog: map[string]store.Product{
			"pro.monthly": {Identifier: "pro.monthly", Price: 9.99, CurrencyCode: "USD", SubscriptionPeriod: "P1M"},
		}},
		ReceiptProvider: &staticReceipts{},
	}, "user_1", nil)
	require.NoError(t, err)

	container := restful.NewContainer()
	require.NoError(t, AddToContainer(container, client))
	return container
}

func TestPurchaseWaitBoundedByRequestContext(t *testing.T) {
	container := newTestContainer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/purchases/v1/purchase",
		strings.NewReader(`{"product_identifier": "pro.monthly"}`))
	req.Header.Set("Content-Type", restful.MIME_JSON)
	rec := httptest.NewRecorder()

	// The queue never resolves the payment; the handler must give up with
	// the caller instead of blocking forever.
	container.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPurchaseRequiresProductIdentifier(t *testing.T) {
	container := newTestContainer(t)

	req := httptest.NewRequest(http.MethodPost, "/purchases/v1/purchase", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", restful.MIME_JSON)
	rec := httptest.NewRecorder()

	container.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
