package receipt

import (
	"encoding/base64"
	"encoding/json"

	"purchases/internal/types"
)

// InAppPurchase is one transaction entry inside the local receipt.
type InAppPurchase struct {
	ProductID             string `json:"product_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDate          string `json:"purchase_date"`
	ExpiresDate           string `json:"expires_date,omitempty"`
	IsInIntroOfferPeriod  bool   `json:"is_in_intro_offer_period"`
	IsTrialPeriod         bool   `json:"is_trial_period"`
}

// Receipt is the decoded local purchase receipt.
type Receipt struct {
	BundleID           string          `json:"bundle_id"`
	ApplicationVersion string          `json:"application_version"`
	InAppPurchases     []InAppPurchase `json:"in_app"`
}

// Parse decodes a receipt blob. The blob is JSON, optionally base64-wrapped
// (the form it is posted to the backend in).
func Parse(data []byte) (*Receipt, error) {
	if len(data) == 0 {
		return nil, types.NewError(types.ErrMissingReceiptFile, "receipt data is empty")
	}

	payload := data
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		payload = decoded
	}

	var r Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, types.WrapError(types.ErrInvalidReceipt, err, "receipt is not parseable")
	}
	return &r, nil
}

// HasTransactions reports whether the receipt records any purchase at all.
func (r *Receipt) HasTransactions() bool {
	return len(r.InAppPurchases) > 0
}

// PurchasedProductIdentifiers returns the distinct product ids in the receipt.
func (r *Receipt) PurchasedProductIdentifiers() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range r.InAppPurchases {
		if !seen[p.ProductID] {
			seen[p.ProductID] = true
			ids = append(ids, p.ProductID)
		}
	}
	return ids
}

// ProductsWithIntroOffersConsumed returns product ids that were already
// purchased under an introductory or trial offer.
func (r *Receipt) ProductsWithIntroOffersConsumed() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range r.InAppPurchases {
		if (p.IsInIntroOfferPeriod || p.IsTrialPeriod) && !seen[p.ProductID] {
			seen[p.ProductID] = true
			ids = append(ids, p.ProductID)
		}
	}
	return ids
}
