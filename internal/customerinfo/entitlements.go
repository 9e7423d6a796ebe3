package customerinfo

import (
	"sort"
	"time"

	"purchases/internal/types"
)

// EntitlementInfo is the derived activity view of one entitlement grant.
type EntitlementInfo struct {
	Identifier             string
	ProductIdentifier      string
	IsActive               bool
	WillRenew              bool
	PeriodType             types.PeriodType
	LatestPurchaseDate     *time.Time
	OriginalPurchaseDate   *time.Time
	ExpirationDate         *time.Time // nil = non-expiring (lifetime grant)
	Store                  types.Store
	IsSandbox              bool
	UnsubscribeDetectedAt  *time.Time
	BillingIssueDetectedAt *time.Time
}

// EntitlementInfos maps entitlement identifiers to their derived views.
type EntitlementInfos struct {
	All map[string]EntitlementInfo
}

// Active returns entitlements active as of the snapshot's request date. The
// request date is baked in at parse time, so repeated calls are deterministic.
func (e EntitlementInfos) Active() map[string]EntitlementInfo {
	active := make(map[string]EntitlementInfo)
	for id, info := range e.All {
		if info.IsActive {
			active[id] = info
		}
	}
	return active
}

// Identifiers returns all entitlement identifiers, sorted.
func (e EntitlementInfos) Identifiers() []string {
	ids := make([]string, 0, len(e.All))
	for id := range e.All {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func buildEntitlements(
	payloads map[string]entitlementPayload,
	subscriptions map[string]Subscription,
	nonSubscriptions map[string][]NonSubscriptionTransaction,
	requestDate time.Time,
) EntitlementInfos {
	all := make(map[string]EntitlementInfo, len(payloads))
	for identifier, payload := range payloads {
		all[identifier] = deriveEntitlement(identifier, payload, subscriptions, nonSubscriptions, requestDate)
	}
	return EntitlementInfos{All: all}
}

func deriveEntitlement(
	identifier string,
	payload entitlementPayload,
	subscriptions map[string]Subscription,
	nonSubscriptions map[string][]NonSubscriptionTransaction,
	requestDate time.Time,
) EntitlementInfo {
	info := EntitlementInfo{
		Identifier:         identifier,
		ProductIdentifier:  payload.ProductIdentifier,
		ExpirationDate:     parseDate(payload.ExpiresDate),
		LatestPurchaseDate: parseDate(payload.PurchaseDate),
		PeriodType:         types.PeriodTypeNormal,
		Store:              types.StoreUnknown,
	}

	// Pull transaction detail from the linked subscription record, or the
	// latest non-subscription transaction. An entitlement pointing at a
	// product absent from both still parses; dates come from the entitlement
	// record itself.
	if sub, ok := subscriptions[payload.ProductIdentifier]; ok {
		info.PeriodType = sub.PeriodType
		info.Store = sub.Store
		info.IsSandbox = sub.IsSandbox
		info.OriginalPurchaseDate = sub.OriginalPurchaseDate
		info.UnsubscribeDetectedAt = sub.UnsubscribeDetectedAt
		info.BillingIssueDetectedAt = sub.BillingIssuesDetectedAt
		if info.LatestPurchaseDate == nil {
			info.LatestPurchaseDate = sub.PurchaseDate
		}
	} else if txns, ok := nonSubscriptions[payload.ProductIdentifier]; ok && len(txns) > 0 {
		latest := txns[len(txns)-1]
		info.Store = latest.Store
		info.IsSandbox = latest.IsSandbox
		if info.LatestPurchaseDate == nil {
			d := latest.PurchaseDate
			info.LatestPurchaseDate = &d
		}
		first := txns[0].PurchaseDate
		info.OriginalPurchaseDate = &first
	}

	// An entitlement with no expiration date is a lifetime grant and is
	// always active.
	info.IsActive = info.ExpirationDate == nil || info.ExpirationDate.After(requestDate)
	info.WillRenew = willRenew(info)

	return info
}

func willRenew(info EntitlementInfo) bool {
	if info.Store == types.StorePromotional {
		return false
	}
	if info.ExpirationDate == nil {
		// Lifetime grants have no underlying auto-renewing subscription.
		return false
	}
	if info.UnsubscribeDetectedAt != nil || info.BillingIssueDetectedAt != nil {
		return false
	}
	return true
}
