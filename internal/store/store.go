package store

import (
	"fmt"

	"purchases/internal/types"
)

// Product is the storefront's view of a purchasable product.
type Product struct {
	Identifier         string
	Price              float64
	CurrencyCode       string
	SubscriptionPeriod string // ISO-8601 period, empty for non-subscriptions
	SubscriptionGroup  string
	IntroDiscount      *Discount  // introductory offer, nil if none
	Discounts          []Discount // promotional offers, declared order
}

// Discount is a store-side introductory or promotional offer.
type Discount struct {
	OfferIdentifier    string
	Price              float64
	PaymentMode        types.PaymentMode
	SubscriptionPeriod string
}

// Payment is a queued purchase request. ID is the payment identity used to
// match transaction updates back to the originating request.
type Payment struct {
	ID                 string
	ProductIdentifier  string
	Quantity           int
	DiscountIdentifier string
	DiscountSignature  string
}

// TransactionState mirrors the store queue's transaction lifecycle.
type TransactionState int

const (
	TransactionPurchasing TransactionState = iota
	TransactionPurchased
	TransactionFailed
	TransactionRestored
	TransactionDeferred
)

func (s TransactionState) String() string {
	switch s {
	case TransactionPurchasing:
		return "purchasing"
	case TransactionPurchased:
		return "purchased"
	case TransactionFailed:
		return "failed"
	case TransactionRestored:
		return "restored"
	case TransactionDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transaction is one update delivered by the store queue for a payment.
type Transaction struct {
	ID      string
	Payment Payment
	State   TransactionState
	Err     *Error // set for failed transactions
}

// ErrorCode is the store-level failure reason attached to failed transactions.
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota
	ErrCancelled
	ErrPaymentNotAllowed
	ErrPaymentInvalid
	ErrProductUnavailable
)

// Error is the raw store error carried on a failed transaction.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("store error %d: %s", e.Code, e.Message)
}

// Observer receives transaction updates from the payment queue. Updates for
// the same payment are delivered in order.
type Observer interface {
	TransactionUpdated(tx Transaction)
}

// PaymentQueue is the transport port to the platform store's payment queue.
type PaymentQueue interface {
	AddPayment(p Payment)
	FinishTransaction(tx Transaction)
	SetObserver(o Observer)
}

// ProductsRequest is a handle on an in-flight product metadata request.
type ProductsRequest interface {
	Cancel()
}

// ProductsFetcher issues product metadata requests against the store.
// deliver is invoked exactly once unless the request is cancelled first.
type ProductsFetcher interface {
	FetchProducts(identifiers []string, deliver func(products []Product, err error)) ProductsRequest
}
