package orchestrator

import (
	"github.com/golang/glog"

	"purchases/internal/backend"
	"purchases/internal/customerinfo"
	"purchases/internal/receipt"
	"purchases/internal/types"
)

// RestoreTransactions re-posts the local receipt as a restore so ownership
// moves to the current app-user-id. Restores carry their own single-flight
// guard, independent of the per-product purchase locks. When the receipt
// demonstrably has no transactions and a valid cached snapshot exists, the
// backend round-trip is skipped entirely.
func (o *Orchestrator) RestoreTransactions(completion func(*customerinfo.CustomerInfo, error)) {
	o.mu.Lock()
	if o.restoreInFlight {
		o.mu.Unlock()
		completion(nil, types.NewError(types.ErrOperationAlreadyInProgress, "restore already in progress"))
		return
	}
	o.restoreInFlight = true
	o.mu.Unlock()

	done := func(info *customerinfo.CustomerInfo, err error) {
		o.mu.Lock()
		o.restoreInFlight = false
		o.mu.Unlock()
		completion(info, err)
	}

	receiptData, err := o.receipts.ReceiptData(types.RefreshOnlyIfEmpty)
	if err != nil {
		done(nil, types.WrapError(types.ErrMissingReceiptFile, err, "could not load receipt for restore"))
		return
	}

	appUserID := o.identity.CurrentAppUserID()
	if parsed, parseErr := receipt.Parse(receiptData); parseErr == nil && !parsed.HasTransactions() {
		if cached := o.cache.CachedCustomerInfo(appUserID); cached != nil {
			glog.V(2).Info("restore skipped: empty receipt and valid cached customer info")
			done(cached, nil)
			return
		}
		// No purchase history cached anywhere; force a fresh receipt before
		// concluding there is nothing to restore.
		receiptData, err = o.receipts.ReceiptData(types.RefreshAlways)
		if err != nil {
			done(nil, types.WrapError(types.ErrMissingReceiptFile, err, "could not refresh receipt for restore"))
			return
		}
	}

	if len(receiptData) == 0 {
		done(nil, types.NewError(types.ErrMissingReceiptFile, "no receipt available to restore"))
		return
	}

	info, err := o.backend.PostReceipt(backend.ReceiptRequest{
		AppUserID:    appUserID,
		ReceiptData:  receiptData,
		IsRestore:    true,
		ObserverMode: o.opts.ObserverMode,
		Attributes:   o.identity.UnsyncedAttributes(),
	})
	if err != nil {
		done(nil, err)
		return
	}

	o.identity.MarkAttributesSynced()
	if cacheErr := o.cache.CacheCustomerInfo(appUserID, info); cacheErr != nil {
		glog.Warningf("failed to cache restored customer info: %v", cacheErr)
	}
	o.notifyDelegate(info)
	done(info, nil)
}

// SyncPurchases reconciles purchases made outside the SDK (observer-mode
// apps, promo redemptions). Same pipeline as a restore.
func (o *Orchestrator) SyncPurchases(completion func(*customerinfo.CustomerInfo, error)) {
	o.RestoreTransactions(completion)
}

// CustomerInfo delivers the subscriber snapshot, serving the device cache
// while fresh for the given activation state and resyncing from the backend
// otherwise. When the backend is unreachable a cached snapshot, even a stale
// one, is still delivered rather than an error.
func (o *Orchestrator) CustomerInfo(foreground bool, completion func(*customerinfo.CustomerInfo, error)) {
	appUserID := o.identity.CurrentAppUserID()

	cached := o.cache.CachedCustomerInfo(appUserID)
	if cached != nil && !o.cache.IsCustomerInfoCacheStale(appUserID, foreground) {
		completion(cached, nil)
		return
	}

	info, err := o.backend.GetSubscriberInfo(appUserID)
	if err != nil {
		if cached != nil {
			glog.Warningf("serving stale customer info, backend fetch failed: %v", err)
			completion(cached, nil)
			return
		}
		completion(nil, err)
		return
	}

	if cacheErr := o.cache.CacheCustomerInfo(appUserID, info); cacheErr != nil {
		glog.Warningf("failed to cache customer info: %v", cacheErr)
	}
	o.notifyDelegate(info)
	completion(info, nil)
}

// InvalidateCustomerInfoCache forces the next CustomerInfo call to resync
// from the backend. The offerings cache is untouched.
func (o *Orchestrator) InvalidateCustomerInfoCache() {
	o.cache.ClearCustomerInfoCacheTimestamp(o.identity.CurrentAppUserID())
}
