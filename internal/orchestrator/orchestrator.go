package orchestrator

import (
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"purchases/internal/backend"
	"purchases/internal/customerinfo"
	"purchases/internal/devicecache"
	"purchases/internal/identity"
	"purchases/internal/offerings"
	"purchases/internal/products"
	"purchases/internal/receipt"
	"purchases/internal/store"
	"purchases/internal/types"
)

// Backend is the slice of the backend client the orchestrator depends on.
type Backend interface {
	GetSubscriberInfo(appUserID string) (*customerinfo.CustomerInfo, error)
	PostReceipt(req backend.ReceiptRequest) (*customerinfo.CustomerInfo, error)
	PostOfferForSigning(appUserID, productID, offerID, subscriptionGroup string, receiptData []byte) (*backend.SignedOffer, error)
}

// Delegate receives customer-info updates as backend responses resolve.
// Notifications for a snapshot equal to the last delivered one are suppressed.
type Delegate interface {
	CustomerInfoUpdated(info *customerinfo.CustomerInfo)
}

// PurchaseCompletion delivers the outcome of one logical purchase request.
// userCancelled is set alongside the error for user-initiated cancellation;
// callers branch on it before treating the error as a failure.
type PurchaseCompletion func(tx *store.Transaction, info *customerinfo.CustomerInfo, err error, userCancelled bool)

// Options tune orchestrator behavior at construction time.
type Options struct {
	// ObserverMode posts receipts for analytics only; transactions are never
	// finished by the orchestrator.
	ObserverMode bool
	// FinishTransactions disabled leaves every transaction for the host app
	// to finish.
	FinishTransactions bool
}

type pendingPurchase struct {
	payment             store.Payment
	presentedOfferingID string
	completion          PurchaseCompletion
}

// Orchestrator coordinates the purchase lifecycle: it owns the pending
// payment map, observes store transaction updates, reconciles receipts with
// the backend and publishes resulting CustomerInfo snapshots.
type Orchestrator struct {
	queue    store.PaymentQueue
	receipts *receipt.Fetcher
	products *products.Manager
	backend  Backend
	cache    *devicecache.DeviceCache
	identity *identity.Manager
	delegate Delegate
	opts     Options

	mu              sync.Mutex
	pending         map[string]*pendingPurchase // keyed by product identifier
	inflight        map[string]bool             // payment ids mid-reconciliation
	settled         *settledSet                 // payment ids terminally resolved
	restoreInFlight bool
	lastDelegated   *customerinfo.CustomerInfo
}

// settledCapacity bounds how many terminally resolved payment ids are
// remembered for duplicate suppression. The store stops redelivering once a
// transaction is finished, so only a recent window is needed.
const settledCapacity = 500

type settledSet struct {
	ids   map[string]struct{}
	order []string
	cap   int
}

func newSettledSet(capacity int) *settledSet {
	return &settledSet{ids: make(map[string]struct{}), cap: capacity}
}

func (s *settledSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *settledSet) add(id string) {
	if s.contains(id) {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.cap {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}

func New(
	queue store.PaymentQueue,
	receipts *receipt.Fetcher,
	productsManager *products.Manager,
	b Backend,
	cache *devicecache.DeviceCache,
	identityManager *identity.Manager,
	delegate Delegate,
	opts Options,
) *Orchestrator {
	o := &Orchestrator{
		queue:    queue,
		receipts: receipts,
		products: productsManager,
		backend:  b,
		cache:    cache,
		identity: identityManager,
		delegate: delegate,
		opts:     opts,
		pending:  make(map[string]*pendingPurchase),
		inflight: make(map[string]bool),
		settled:  newSettledSet(settledCapacity),
	}
	queue.SetObserver(o)
	return o
}

// PurchaseProduct enqueues a store payment for the product. A second call for
// the same product identifier while the first is unresolved is rejected with
// an operation-already-in-progress error and enqueues nothing.
func (o *Orchestrator) PurchaseProduct(product store.Product, presentedOfferingID string, completion PurchaseCompletion) {
	payment := store.Payment{
		ID:                uuid.New().String(),
		ProductIdentifier: product.Identifier,
		Quantity:          1,
	}
	o.enqueue(payment, presentedOfferingID, completion)
}

// PurchasePackage purchases the package's underlying product, attributing the
// purchase to the offering it was presented from.
func (o *Orchestrator) PurchasePackage(pkg offerings.Package, completion PurchaseCompletion) {
	o.PurchaseProduct(pkg.Product, pkg.OfferingID, completion)
}

// PurchaseProductWithDiscount signs the promotional offer with the backend
// before enqueueing the payment. A signing failure rejects the purchase
// without touching the store queue.
func (o *Orchestrator) PurchaseProductWithDiscount(product store.Product, discount store.Discount, completion PurchaseCompletion) {
	receiptData, err := o.receipts.ReceiptData(types.RefreshOnlyIfEmpty)
	if err != nil || len(receiptData) == 0 {
		completion(nil, nil, types.NewError(types.ErrMissingReceiptFile, "no receipt available to sign offer against"), false)
		return
	}

	signed, err := o.backend.PostOfferForSigning(
		o.identity.CurrentAppUserID(),
		product.Identifier,
		discount.OfferIdentifier,
		product.SubscriptionGroup,
		receiptData,
	)
	if err != nil {
		completion(nil, nil, err, false)
		return
	}

	payment := store.Payment{
		ID:                 uuid.New().String(),
		ProductIdentifier:  product.Identifier,
		Quantity:           1,
		DiscountIdentifier: discount.OfferIdentifier,
		DiscountSignature:  signed.Signature,
	}
	o.enqueue(payment, "", completion)
}

func (o *Orchestrator) enqueue(payment store.Payment, presentedOfferingID string, completion PurchaseCompletion) {
	o.mu.Lock()
	if _, inFlight := o.pending[payment.ProductIdentifier]; inFlight {
		o.mu.Unlock()
		completion(nil, nil, types.NewError(types.ErrOperationAlreadyInProgress,
			"purchase already in progress for product %s", payment.ProductIdentifier), false)
		return
	}
	o.pending[payment.ProductIdentifier] = &pendingPurchase{
		payment:             payment,
		presentedOfferingID: presentedOfferingID,
		completion:          completion,
	}
	o.mu.Unlock()

	glog.V(2).Infof("enqueueing payment for product %s", payment.ProductIdentifier)
	o.queue.AddPayment(payment)
}

// TransactionUpdated implements store.Observer. A payment is claimed before
// its handler runs and released when the handler resolves: updates for a
// payment that is mid-reconciliation or terminally resolved are ignored, while
// a payment left unfinished (deferred, missing receipt, transient backend
// error) is processed again when the store redelivers it.
func (o *Orchestrator) TransactionUpdated(tx store.Transaction) {
	switch tx.State {
	case store.TransactionPurchasing:
		glog.V(2).Infof("product %s purchasing", tx.Payment.ProductIdentifier)
		return
	case store.TransactionPurchased, store.TransactionRestored,
		store.TransactionFailed, store.TransactionDeferred:
	default:
		glog.Warningf("unhandled transaction state %s for product %s", tx.State, tx.Payment.ProductIdentifier)
		return
	}

	o.mu.Lock()
	if o.settled.contains(tx.Payment.ID) || o.inflight[tx.Payment.ID] {
		o.mu.Unlock()
		glog.V(2).Infof("ignoring duplicate update for payment %s", tx.Payment.ID)
		return
	}
	o.inflight[tx.Payment.ID] = true
	o.mu.Unlock()

	switch tx.State {
	case store.TransactionPurchased:
		o.handlePurchased(tx, false)
	case store.TransactionRestored:
		o.handlePurchased(tx, true)
	case store.TransactionFailed:
		o.handleFailed(tx)
	case store.TransactionDeferred:
		o.handleDeferred(tx)
	}
}

// handlePurchased runs the reconciliation pipeline for a purchased or
// restored transaction: receipt, product metadata, backend post, cache and
// delegate updates, then finishing per policy.
func (o *Orchestrator) handlePurchased(tx store.Transaction, isRestore bool) {
	receiptData, err := o.receipts.ReceiptData(types.RefreshOnlyIfEmpty)
	if err != nil || len(receiptData) == 0 {
		// Nothing to post and nothing to finish; the store redelivers the
		// transaction once a receipt shows up.
		o.completeTransaction(tx, nil, types.NewError(types.ErrMissingReceiptFile, "receipt missing after refresh"), false)
		return
	}

	o.products.Products([]string{tx.Payment.ProductIdentifier}, func(resolved map[string]store.Product, err error) {
		var productInfo map[string]interface{}
		if err != nil {
			glog.Warningf("posting receipt without product info for %s: %v", tx.Payment.ProductIdentifier, err)
		} else if p, ok := resolved[tx.Payment.ProductIdentifier]; ok {
			productInfo = products.Extract(p).AsDictionary()
		}
		o.postReceipt(tx, receiptData, productInfo, isRestore)
	})
}

func (o *Orchestrator) postReceipt(tx store.Transaction, receiptData []byte, productInfo map[string]interface{}, isRestore bool) {
	o.mu.Lock()
	presentedOfferingID := ""
	if p, ok := o.pending[tx.Payment.ProductIdentifier]; ok && p.payment.ID == tx.Payment.ID {
		presentedOfferingID = p.presentedOfferingID
	}
	o.mu.Unlock()

	appUserID := o.identity.CurrentAppUserID()
	info, err := o.backend.PostReceipt(backend.ReceiptRequest{
		AppUserID:           appUserID,
		ReceiptData:         receiptData,
		ProductInfo:         productInfo,
		IsRestore:           isRestore,
		PresentedOfferingID: presentedOfferingID,
		ObserverMode:        o.opts.ObserverMode,
		Attributes:          o.identity.UnsyncedAttributes(),
	})
	if err != nil {
		o.completeTransaction(tx, nil, err, o.isFinishable(err))
		return
	}

	o.identity.MarkAttributesSynced()
	if cacheErr := o.cache.CacheCustomerInfo(appUserID, info); cacheErr != nil {
		glog.Warningf("failed to cache customer info: %v", cacheErr)
	}
	o.completeTransaction(tx, info, nil, true)
	o.notifyDelegate(info)
}

func (o *Orchestrator) handleFailed(tx store.Transaction) {
	err := mapStoreError(tx.Err)
	// Failures always clear locally and never reach the backend.
	o.completeTransaction(tx, nil, err, true)
}

func (o *Orchestrator) handleDeferred(tx store.Transaction) {
	// Ask-to-buy style deferral: the store redelivers once resolved, so the
	// transaction stays pending.
	err := types.NewError(types.ErrPaymentPending, "payment for %s is awaiting approval", tx.Payment.ProductIdentifier)
	o.completeTransaction(tx, nil, err, false)
}

// completeTransaction resolves the current reconciliation attempt: it fires
// the pending completion at most once and, when the outcome is terminal
// (successful post, store failure or a finishable backend error), records the
// payment as settled and finishes the transaction per policy. A non-terminal
// outcome releases the payment so the store's redelivery is processed again.
func (o *Orchestrator) completeTransaction(tx store.Transaction, info *customerinfo.CustomerInfo, err error, terminal bool) {
	o.mu.Lock()
	delete(o.inflight, tx.Payment.ID)
	if terminal {
		o.settled.add(tx.Payment.ID)
	}
	var completion PurchaseCompletion
	if p, ok := o.pending[tx.Payment.ProductIdentifier]; ok && p.payment.ID == tx.Payment.ID {
		completion = p.completion
		delete(o.pending, tx.Payment.ProductIdentifier)
	}
	o.mu.Unlock()

	if completion != nil {
		completion(&tx, info, err, types.IsUserCancelled(err))
	}

	if terminal && o.opts.FinishTransactions && !o.opts.ObserverMode {
		o.queue.FinishTransaction(tx)
	}
}

// isFinishable reads the backend's finishable flag off the error. The flag
// alone decides whether the local queue is cleared, never the error kind.
func (o *Orchestrator) isFinishable(err error) bool {
	if pe, ok := err.(*types.PurchasesError); ok {
		return pe.Finishable
	}
	return false
}

func (o *Orchestrator) notifyDelegate(info *customerinfo.CustomerInfo) {
	if o.delegate == nil || info == nil {
		return
	}
	o.mu.Lock()
	if o.lastDelegated != nil && o.lastDelegated.Equal(info) {
		o.mu.Unlock()
		glog.V(2).Info("suppressing delegate notification for equal customer info")
		return
	}
	o.lastDelegated = info
	o.mu.Unlock()

	o.delegate.CustomerInfoUpdated(info)
}

func mapStoreError(serr *store.Error) *types.PurchasesError {
	if serr == nil {
		return types.NewError(types.ErrStoreProblem, "transaction failed with no store error")
	}
	var perr *types.PurchasesError
	switch serr.Code {
	case store.ErrCancelled:
		perr = types.WrapError(types.ErrPurchaseCancelled, serr, "purchase was cancelled")
		perr.UserCancelled = true
	case store.ErrPaymentNotAllowed:
		perr = types.WrapError(types.ErrPurchaseNotAllowed, serr, "device is not allowed to make payments")
	case store.ErrPaymentInvalid:
		perr = types.WrapError(types.ErrPurchaseInvalid, serr, "payment was invalid")
	case store.ErrProductUnavailable:
		perr = types.WrapError(types.ErrProductNotAvailableForPurchase, serr, "product is not available for purchase")
	default:
		perr = types.WrapError(types.ErrStoreProblem, serr, "store reported a problem")
	}
	return perr
}
