package eligibility

import (
	"github.com/golang/glog"

	"purchases/internal/receipt"
	"purchases/internal/types"
)

// EligibilityBackend is the remote fallback for eligibility classification.
type EligibilityBackend interface {
	GetIntroEligibility(appUserID string, receiptData []byte, productIDs []string) (map[string]types.IntroEligibilityStatus, error)
}

// Checker resolves intro eligibility locally first and falls back to the
// backend when the receipt cannot be read or parsed. Failures never surface
// to the caller as errors; they degrade to an empty result.
type Checker struct {
	calculator *Calculator
	backend    EligibilityBackend
	receipts   *receipt.Fetcher
}

func NewChecker(calculator *Calculator, backend EligibilityBackend, receipts *receipt.Fetcher) *Checker {
	return &Checker{
		calculator: calculator,
		backend:    backend,
		receipts:   receipts,
	}
}

// CheckEligibility classifies the given product identifiers for appUserID.
func (c *Checker) CheckEligibility(
	appUserID string,
	productIdentifiers []string,
	completion func(map[string]types.IntroEligibilityStatus),
) {
	receiptData, err := c.receipts.ReceiptData(types.RefreshOnlyIfEmpty)
	if err != nil {
		glog.Warningf("receipt unavailable for eligibility check: %v", err)
		c.fallback(appUserID, nil, productIdentifiers, completion)
		return
	}

	c.calculator.CheckEligibility(receiptData, productIdentifiers, func(result map[string]types.IntroEligibilityStatus, err error) {
		if err != nil {
			glog.V(2).Infof("local eligibility calculation failed, asking backend: %v", err)
			c.fallback(appUserID, receiptData, productIdentifiers, completion)
			return
		}
		completion(result)
	})
}

func (c *Checker) fallback(
	appUserID string,
	receiptData []byte,
	productIdentifiers []string,
	completion func(map[string]types.IntroEligibilityStatus),
) {
	result, err := c.backend.GetIntroEligibility(appUserID, receiptData, productIdentifiers)
	if err != nil {
		glog.Warningf("backend eligibility lookup failed: %v", err)
		completion(map[string]types.IntroEligibilityStatus{})
		return
	}
	completion(result)
}
