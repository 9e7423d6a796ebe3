// Package purchases is the client SDK mediating in-app purchases between the
// host app, the platform store and the subscription backend. It reconciles
// store transactions into backend receipts, resolves entitlements into
// CustomerInfo snapshots and keeps a per-user device cache.
package purchases

import (
	"github.com/golang/glog"

	"purchases/internal/backend"
	"purchases/internal/config"
	"purchases/internal/customerinfo"
	"purchases/internal/devicecache"
	"purchases/internal/eligibility"
	"purchases/internal/events"
	"purchases/internal/identity"
	"purchases/internal/journal"
	"purchases/internal/offerings"
	"purchases/internal/orchestrator"
	"purchases/internal/products"
	"purchases/internal/receipt"
	"purchases/internal/store"
	"purchases/internal/types"
)

// Delegate receives customer-info updates from the SDK.
type Delegate = orchestrator.Delegate

// Platform gathers the host-provided ports: the store payment queue, the
// product metadata fetcher, the receipt provider and the cache backing store.
type Platform struct {
	PaymentQueue    store.PaymentQueue
	ProductsFetcher store.ProductsFetcher
	ReceiptProvider receipt.Provider
	CacheStore      devicecache.KVStore
}

// Purchases is the SDK entry point. One instance per app-user session.
type Purchases struct {
	cfg *config.Config

	cache        *devicecache.DeviceCache
	identity     *identity.Manager
	products     *products.Manager
	receipts     *receipt.Fetcher
	backend      *backend.Client
	orchestrator *orchestrator.Orchestrator
	offerings    *offerings.Manager
	eligibility  *eligibility.Checker

	journal *journal.Journal
	sender  *events.DataSender
}

// delegateFanout forwards updates to the host delegate and the event/journal
// sinks.
type delegateFanout struct {
	p    *Purchases
	host Delegate
}

func (d *delegateFanout) CustomerInfoUpdated(info *customerinfo.CustomerInfo) {
	appUserID := d.p.identity.CurrentAppUserID()

	if d.p.sender != nil {
		if err := d.p.sender.SendCustomerInfoUpdate(appUserID, info); err != nil {
			glog.Warningf("failed to publish customer info event: %v", err)
		}
	}

	if d.host != nil {
		d.host.CustomerInfoUpdated(info)
	}
}

// Configure builds a Purchases instance. appUserID may be empty, in which
// case a cached or freshly generated anonymous id is used.
func Configure(cfg *config.Config, platform Platform, appUserID string, delegate Delegate) (*Purchases, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "an API key is required")
	}
	if platform.PaymentQueue == nil || platform.ProductsFetcher == nil || platform.ReceiptProvider == nil {
		return nil, types.NewError(types.ErrConfiguration, "payment queue, products fetcher and receipt provider are required")
	}

	kv := platform.CacheStore
	if kv == nil {
		kv = devicecache.NewMemoryStore()
	}

	p := &Purchases{cfg: cfg}

	p.cache = devicecache.New(kv)
	p.cache.Migrate(cfg.SDKVersion)

	p.backend = backend.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Platform, cfg.SDKVersion, cfg.HTTPTimeout())
	p.identity = identity.NewManager(p.cache, p.backend)
	p.identity.Configure(appUserID)

	p.products = products.NewManager(platform.ProductsFetcher, cfg.ProductRequestTimeout())
	p.receipts = receipt.NewFetcher(platform.ReceiptProvider)
	p.eligibility = eligibility.NewChecker(eligibility.NewCalculator(p.products), p.backend, p.receipts)
	p.offerings = offerings.NewManager(p.backend, p.cache, p.products)

	if cfg.JournalEnabled {
		j, err := journal.New()
		if err != nil {
			glog.Warningf("purchase journal disabled: %v", err)
		} else {
			p.journal = j
		}
	}
	if cfg.EventsEnabled {
		sender, err := events.NewDataSender()
		if err != nil {
			glog.Warningf("event publication disabled: %v", err)
		} else {
			p.sender = sender
		}
	}

	p.orchestrator = orchestrator.New(
		platform.PaymentQueue,
		p.receipts,
		p.products,
		p.backend,
		p.cache,
		p.identity,
		&delegateFanout{p: p, host: delegate},
		orchestrator.Options{
			ObserverMode:       cfg.ObserverMode,
			FinishTransactions: cfg.FinishTransactions,
		},
	)

	glog.Infof("purchases configured for platform %s", cfg.Platform)
	return p, nil
}

// AppUserID returns the active app-user-id.
func (p *Purchases) AppUserID() string {
	return p.identity.CurrentAppUserID()
}

// IsAnonymous reports whether the active user is anonymous.
func (p *Purchases) IsAnonymous() bool {
	return p.identity.CurrentUserIsAnonymous()
}

// Products resolves store metadata for a set of product identifiers.
func (p *Purchases) Products(identifiers []string, completion products.Completion) {
	p.products.Products(identifiers, completion)
}

// PurchaseProduct starts a purchase for a store product.
func (p *Purchases) PurchaseProduct(product store.Product, completion orchestrator.PurchaseCompletion) {
	p.journalEntry(journal.TypePurchaseStarted, product.Identifier, "purchase requested")
	p.orchestrator.PurchaseProduct(product, "", p.journaledCompletion(product.Identifier, completion))
}

// PurchasePackage purchases a package from an offering, attributing the
// purchase to that offering.
func (p *Purchases) PurchasePackage(pkg offerings.Package, completion orchestrator.PurchaseCompletion) {
	p.journalEntry(journal.TypePurchaseStarted, pkg.Product.Identifier, "package purchase requested")
	p.orchestrator.PurchasePackage(pkg, p.journaledCompletion(pkg.Product.Identifier, completion))
}

// PurchaseProductWithDiscount purchases a product under a signed promotional
// offer.
func (p *Purchases) PurchaseProductWithDiscount(product store.Product, discount store.Discount, completion orchestrator.PurchaseCompletion) {
	p.journalEntry(journal.TypePurchaseStarted, product.Identifier, "discounted purchase requested")
	p.orchestrator.PurchaseProductWithDiscount(product, discount, p.journaledCompletion(product.Identifier, completion))
}

// RestoreTransactions re-posts the local receipt so prior purchases attach to
// the current app-user-id.
func (p *Purchases) RestoreTransactions(completion func(*customerinfo.CustomerInfo, error)) {
	p.orchestrator.RestoreTransactions(func(info *customerinfo.CustomerInfo, err error) {
		if err != nil {
			p.journalEntry(journal.TypeRestoreFailed, "", err.Error())
		} else {
			p.journalEntry(journal.TypeRestoreSucceeded, "", "restore reconciled")
		}
		completion(info, err)
	})
}

// SyncPurchases reconciles purchases made outside the SDK.
func (p *Purchases) SyncPurchases(completion func(*customerinfo.CustomerInfo, error)) {
	p.orchestrator.SyncPurchases(completion)
}

// CustomerInfo delivers the subscriber snapshot; foreground selects the
// aggressive staleness threshold.
func (p *Purchases) CustomerInfo(foreground bool, completion func(*customerinfo.CustomerInfo, error)) {
	p.orchestrator.CustomerInfo(foreground, completion)
}

// InvalidateCustomerInfoCache forces the next CustomerInfo call to resync.
func (p *Purchases) InvalidateCustomerInfoCache() {
	p.orchestrator.InvalidateCustomerInfoCache()
}

// Offerings resolves the presentable offerings for the current user.
func (p *Purchases) Offerings(completion func(*offerings.Offerings, error)) {
	p.offerings.Offerings(p.identity.CurrentAppUserID(), completion)
}

// CheckTrialOrIntroEligibility classifies intro-price eligibility per product.
func (p *Purchases) CheckTrialOrIntroEligibility(identifiers []string, completion func(map[string]types.IntroEligibilityStatus)) {
	p.eligibility.CheckEligibility(p.identity.CurrentAppUserID(), identifiers, completion)
}

// Identify switches to a known user id, aliasing anonymous history to it.
func (p *Purchases) Identify(appUserID string) error {
	old := p.identity.CurrentAppUserID()
	if err := p.identity.Identify(appUserID); err != nil {
		return err
	}
	if p.identity.CurrentAppUserID() != old {
		p.journalEntry(journal.TypeIdentitySwitch, "", "identified as new user")
	}
	return nil
}

// CreateAlias links a new app-user-id to the current one on the backend.
func (p *Purchases) CreateAlias(newAppUserID string) error {
	return p.identity.CreateAlias(newAppUserID)
}

// Reset discards the current identity for a fresh anonymous one.
func (p *Purchases) Reset() {
	p.identity.Reset()
	p.journalEntry(journal.TypeIdentitySwitch, "", "identity reset")
}

// SetAttributes stages subscriber attributes for the next receipt post.
func (p *Purchases) SetAttributes(attrs map[string]string) {
	p.identity.SetAttributes(attrs)
}

// SetAttributionData forwards an attribution payload to the backend.
func (p *Purchases) SetAttributionData(network int, data map[string]interface{}) error {
	return p.backend.PostAttributionData(p.identity.CurrentAppUserID(), network, data)
}

// Close releases the journal and event-bus connections.
func (p *Purchases) Close() {
	if p.journal != nil {
		if err := p.journal.Close(); err != nil {
			glog.Warningf("failed to close journal: %v", err)
		}
	}
	if p.sender != nil {
		p.sender.Close()
	}
}

func (p *Purchases) journalEntry(typ journal.EntryType, product, message string) {
	if p.journal == nil {
		return
	}
	entry := &journal.Entry{
		Type:      typ,
		Message:   message,
		Product:   product,
		AppUserID: p.identity.CurrentAppUserID(),
	}
	if err := p.journal.StoreEntry(entry); err != nil {
		glog.Warningf("failed to journal %s: %v", typ, err)
	}
}

func (p *Purchases) journaledCompletion(productID string, completion orchestrator.PurchaseCompletion) orchestrator.PurchaseCompletion {
	return func(tx *store.Transaction, info *customerinfo.CustomerInfo, err error, userCancelled bool) {
		switch {
		case err == nil:
			p.journalEntry(journal.TypePurchaseSucceeded, productID, "purchase reconciled")
		case types.CodeOf(err) == types.ErrPaymentPending:
			p.journalEntry(journal.TypePurchaseDeferred, productID, err.Error())
		default:
			p.journalEntry(journal.TypePurchaseFailed, productID, err.Error())
		}
		if p.sender != nil && tx != nil {
			event := events.TransactionEvent{
				AppUserID: p.identity.CurrentAppUserID(),
				Product:   productID,
				State:     tx.State.String(),
				Restore:   tx.State == store.TransactionRestored,
			}
			if err != nil {
				event.Error = err.Error()
			}
			if sendErr := p.sender.SendTransactionEvent(event); sendErr != nil {
				glog.Warningf("failed to publish transaction event: %v", sendErr)
			}
		}
		completion(tx, info, err, userCancelled)
	}
}
