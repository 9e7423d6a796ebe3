// Package storebridge connects the SDK's platform store ports to a
// device-local store gateway over HTTP. The gateway is the process holding
// the actual platform store session; the bridge forwards payments, product
// metadata requests and receipt access to it, and polls it for transaction
// updates which it replays to the payment queue observer in delivery order.
package storebridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"

	"purchases/internal/store"
	"purchases/internal/types"
)

// Bridge implements store.PaymentQueue, store.ProductsFetcher and
// receipt.Provider against the gateway's REST surface.
type Bridge struct {
	http      *resty.Client
	pollEvery time.Duration

	mu       sync.Mutex
	observer store.Observer
	lastSeq  int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(baseURL string, pollEvery time.Duration) *Bridge {
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		http:      resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		pollEvery: pollEvery,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling the gateway for transaction updates.
func (b *Bridge) Start() {
	go b.pollLoop()
}

// Close stops the poll loop and waits for it to exit.
func (b *Bridge) Close() {
	b.cancel()
	<-b.done
}

func (b *Bridge) SetObserver(o store.Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

type gatewayPayment struct {
	ID                 string `json:"payment_id"`
	ProductIdentifier  string `json:"product_identifier"`
	Quantity           int    `json:"quantity"`
	DiscountIdentifier string `json:"discount_identifier,omitempty"`
	DiscountSignature  string `json:"discount_signature,omitempty"`
}

// AddPayment forwards the payment to the gateway. A gateway that cannot be
// reached reports back as a failed transaction so the originating purchase
// still completes.
func (b *Bridge) AddPayment(p store.Payment) {
	body := gatewayPayment{
		ID:                 p.ID,
		ProductIdentifier:  p.ProductIdentifier,
		Quantity:           p.Quantity,
		DiscountIdentifier: p.DiscountIdentifier,
		DiscountSignature:  p.DiscountSignature,
	}
	resp, err := b.http.R().SetBody(body).Post("/store/payments")
	if err == nil && resp.StatusCode() < 300 {
		return
	}
	if err == nil {
		err = fmt.Errorf("store gateway returned %d", resp.StatusCode())
	}
	glog.Errorf("failed to enqueue payment for %s: %v", p.ProductIdentifier, err)

	b.deliver(store.Transaction{
		Payment: p,
		State:   store.TransactionFailed,
		Err:     &store.Error{Code: store.ErrUnknown, Message: err.Error()},
	})
}

func (b *Bridge) FinishTransaction(tx store.Transaction) {
	resp, err := b.http.R().Post("/store/transactions/" + tx.ID + "/finish")
	if err != nil {
		glog.Errorf("failed to finish transaction %s: %v", tx.ID, err)
		return
	}
	if resp.StatusCode() >= 300 {
		glog.Errorf("failed to finish transaction %s: gateway returned %d", tx.ID, resp.StatusCode())
	}
}

type gatewayProduct struct {
	Identifier         string            `json:"identifier"`
	Price              float64           `json:"price"`
	CurrencyCode       string            `json:"currency_code"`
	SubscriptionPeriod string            `json:"subscription_period"`
	SubscriptionGroup  string            `json:"subscription_group"`
	IntroDiscount      *gatewayDiscount  `json:"intro_discount"`
	Discounts          []gatewayDiscount `json:"discounts"`
}

type gatewayDiscount struct {
	OfferIdentifier    string  `json:"offer_identifier"`
	Price              float64 `json:"price"`
	PaymentMode        int     `json:"payment_mode"`
	SubscriptionPeriod string  `json:"subscription_period"`
}

type productsRequest struct {
	cancel context.CancelFunc
}

func (r *productsRequest) Cancel() { r.cancel() }

// FetchProducts asks the gateway for store metadata. deliver runs on a
// separate goroutine; Cancel on the returned handle aborts the HTTP call.
func (b *Bridge) FetchProducts(identifiers []string, deliver func([]store.Product, error)) store.ProductsRequest {
	ctx, cancel := context.WithCancel(b.ctx)

	go func() {
		var result struct {
			Products []gatewayProduct `json:"products"`
		}
		resp, err := b.http.R().
			SetContext(ctx).
			SetBody(map[string][]string{"identifiers": identifiers}).
			SetResult(&result).
			Post("/store/products")
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			deliver(nil, err)
			return
		}
		if resp.StatusCode() != http.StatusOK {
			deliver(nil, fmt.Errorf("store gateway returned %d", resp.StatusCode()))
			return
		}

		products := make([]store.Product, 0, len(result.Products))
		for _, gp := range result.Products {
			products = append(products, wireProduct(gp))
		}
		deliver(products, nil)
	}()

	return &productsRequest{cancel: cancel}
}

func wireProduct(gp gatewayProduct) store.Product {
	p := store.Product{
		Identifier:         gp.Identifier,
		Price:              gp.Price,
		CurrencyCode:       gp.CurrencyCode,
		SubscriptionPeriod: gp.SubscriptionPeriod,
		SubscriptionGroup:  gp.SubscriptionGroup,
	}
	if gp.IntroDiscount != nil {
		d := wireDiscount(*gp.IntroDiscount)
		p.IntroDiscount = &d
	}
	for _, gd := range gp.Discounts {
		p.Discounts = append(p.Discounts, wireDiscount(gd))
	}
	return p
}

func wireDiscount(gd gatewayDiscount) store.Discount {
	return store.Discount{
		OfferIdentifier:    gd.OfferIdentifier,
		Price:              gd.Price,
		PaymentMode:        paymentModeFromWire(gd.PaymentMode),
		SubscriptionPeriod: gd.SubscriptionPeriod,
	}
}

func paymentModeFromWire(mode int) types.PaymentMode {
	switch m := types.PaymentMode(mode); m {
	case types.PaymentModePayAsYouGo, types.PaymentModePayUpFront, types.PaymentModeFreeTrial:
		return m
	default:
		return types.PaymentModeNone
	}
}

// LoadReceipt returns the receipt currently held by the gateway, empty when
// the device has none.
func (b *Bridge) LoadReceipt() ([]byte, error) {
	return b.receipt("/store/receipt", resty.MethodGet)
}

// RefreshReceipt asks the gateway to refresh the receipt from the store.
func (b *Bridge) RefreshReceipt() ([]byte, error) {
	return b.receipt("/store/receipt/refresh", resty.MethodPost)
}

func (b *Bridge) receipt(path, method string) ([]byte, error) {
	var result struct {
		Receipt string `json:"receipt"`
	}
	resp, err := b.http.R().SetResult(&result).Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("store gateway returned %d", resp.StatusCode())
	}
	if result.Receipt == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(result.Receipt)
}

type gatewayTransaction struct {
	Seq     int64          `json:"seq"`
	ID      string         `json:"transaction_id"`
	State   string         `json:"state"`
	Payment gatewayPayment `json:"payment"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Bridge) pollLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if err := b.poll(); err != nil {
				glog.Warningf("store gateway poll failed: %v", err)
			}
		}
	}
}

func (b *Bridge) poll() error {
	b.mu.Lock()
	after := b.lastSeq
	b.mu.Unlock()

	var result struct {
		Transactions []gatewayTransaction `json:"transactions"`
	}
	resp, err := b.http.R().
		SetContext(b.ctx).
		SetQueryParam("after", fmt.Sprintf("%d", after)).
		SetResult(&result).
		Get("/store/transactions")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("store gateway returned %d", resp.StatusCode())
	}

	for _, gt := range result.Transactions {
		b.mu.Lock()
		if gt.Seq > b.lastSeq {
			b.lastSeq = gt.Seq
		}
		b.mu.Unlock()
		b.deliver(wireTransaction(gt))
	}
	return nil
}

func (b *Bridge) deliver(tx store.Transaction) {
	b.mu.Lock()
	observer := b.observer
	b.mu.Unlock()
	if observer == nil {
		glog.Warningf("dropping transaction update for %s: no observer", tx.Payment.ProductIdentifier)
		return
	}
	observer.TransactionUpdated(tx)
}

func wireTransaction(gt gatewayTransaction) store.Transaction {
	tx := store.Transaction{
		ID:    gt.ID,
		State: stateFromWire(gt.State),
		Payment: store.Payment{
			ID:                 gt.Payment.ID,
			ProductIdentifier:  gt.Payment.ProductIdentifier,
			Quantity:           gt.Payment.Quantity,
			DiscountIdentifier: gt.Payment.DiscountIdentifier,
			DiscountSignature:  gt.Payment.DiscountSignature,
		},
	}
	if gt.Error != nil {
		tx.Err = &store.Error{
			Code:    errorCodeFromWire(gt.Error.Code),
			Message: gt.Error.Message,
		}
	}
	return tx
}

func stateFromWire(s string) store.TransactionState {
	switch s {
	case "purchased":
		return store.TransactionPurchased
	case "failed":
		return store.TransactionFailed
	case "restored":
		return store.TransactionRestored
	case "deferred":
		return store.TransactionDeferred
	default:
		return store.TransactionPurchasing
	}
}

func errorCodeFromWire(code int) store.ErrorCode {
	switch c := store.ErrorCode(code); c {
	case store.ErrCancelled, store.ErrPaymentNotAllowed, store.ErrPaymentInvalid, store.ErrProductUnavailable:
		return c
	default:
		return store.ErrUnknown
	}
}
