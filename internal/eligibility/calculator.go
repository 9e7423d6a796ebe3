package eligibility

import (
	"github.com/golang/glog"
	"github.com/thoas/go-funk"

	"purchases/internal/products"
	"purchases/internal/receipt"
	"purchases/internal/store"
	"purchases/internal/types"
)

// Calculator answers intro/trial price eligibility from the local receipt.
type Calculator struct {
	products *products.Manager
}

func NewCalculator(productsManager *products.Manager) *Calculator {
	return &Calculator{products: productsManager}
}

// CheckEligibility classifies each requested product identifier. Store
// metadata for the union of the requested and receipt-derived identifiers is
// resolved in exactly one products request. On receipt-parse failure the
// error propagates with an empty map, never partial results.
func (c *Calculator) CheckEligibility(
	receiptData []byte,
	productIdentifiers []string,
	completion func(map[string]types.IntroEligibilityStatus, error),
) {
	parsed, err := receipt.Parse(receiptData)
	if err != nil {
		completion(map[string]types.IntroEligibilityStatus{}, err)
		return
	}

	consumedIDs := parsed.ProductsWithIntroOffersConsumed()
	union := funk.UniqString(append(append([]string{}, productIdentifiers...), consumedIDs...))

	c.products.Products(union, func(resolved map[string]store.Product, err error) {
		if err != nil {
			glog.Warningf("eligibility product lookup failed: %v", err)
			completion(map[string]types.IntroEligibilityStatus{}, err)
			return
		}

		// Groups whose intro offer was already consumed. A product the store
		// no longer returns counts as its own group so prior consumption is
		// still honored.
		consumedGroups := make(map[string]bool, len(consumedIDs))
		for _, id := range consumedIDs {
			if p, ok := resolved[id]; ok && p.SubscriptionGroup != "" {
				consumedGroups[p.SubscriptionGroup] = true
			} else {
				consumedGroups[id] = true
			}
		}

		result := make(map[string]types.IntroEligibilityStatus, len(productIdentifiers))
		for _, id := range productIdentifiers {
			result[id] = classify(id, resolved, consumedGroups)
		}
		completion(result, nil)
	})
}

func classify(id string, resolved map[string]store.Product, consumedGroups map[string]bool) types.IntroEligibilityStatus {
	p, ok := resolved[id]
	if !ok {
		return types.IntroEligibilityUnknown
	}
	// Eligibility is meaningless for non-subscriptions.
	if p.SubscriptionPeriod == "" {
		return types.IntroEligibilityUnknown
	}
	group := p.SubscriptionGroup
	if group == "" {
		group = p.Identifier
	}
	if consumedGroups[group] || consumedGroups[p.Identifier] {
		return types.IntroEligibilityIneligible
	}
	if p.IntroDiscount == nil {
		// Nothing to be eligible for.
		return types.IntroEligibilityIneligible
	}
	return types.IntroEligibilityEligible
}
