package products

import (
	"strconv"
	"strings"

	"purchases/internal/store"
	"purchases/internal/types"
)

// PromotionalOffer is a discount in the form the backend accepts.
type PromotionalOffer struct {
	OfferIdentifier    string
	Price              float64
	PaymentMode        types.PaymentMode
	SubscriptionPeriod string
}

// ProductInfo is the canonical, backend-postable record of a store product
// and its currently-applied discount. Pure value, no side effects.
type ProductInfo struct {
	ProductIdentifier string
	PaymentMode       types.PaymentMode
	CurrencyCode      string
	Price             float64
	NormalDuration    string // ISO-8601 period, empty for non-subscriptions
	IntroDuration     string
	IntroDurationType types.IntroDurationType
	IntroPrice        float64
	SubscriptionGroup string
	Discounts         []PromotionalOffer
}

// Extract normalizes a store product into a ProductInfo.
func Extract(p store.Product) ProductInfo {
	info := ProductInfo{
		ProductIdentifier: p.Identifier,
		PaymentMode:       types.PaymentModeNone,
		CurrencyCode:      p.CurrencyCode,
		Price:             p.Price,
		NormalDuration:    p.SubscriptionPeriod,
		IntroDurationType: types.IntroDurationTypeNone,
		SubscriptionGroup: p.SubscriptionGroup,
	}

	if p.IntroDiscount != nil {
		info.PaymentMode = p.IntroDiscount.PaymentMode
		info.IntroPrice = p.IntroDiscount.Price
		info.IntroDuration = p.IntroDiscount.SubscriptionPeriod
		if p.IntroDiscount.PaymentMode == types.PaymentModeFreeTrial {
			info.IntroDurationType = types.IntroDurationTypeFreeTrial
		} else {
			info.IntroDurationType = types.IntroDurationTypeIntroPrice
		}
	}

	for _, d := range p.Discounts {
		info.Discounts = append(info.Discounts, PromotionalOffer{
			OfferIdentifier:    d.OfferIdentifier,
			Price:              d.Price,
			PaymentMode:        d.PaymentMode,
			SubscriptionPeriod: d.SubscriptionPeriod,
		})
	}

	return info
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// CacheKey is a deterministic concatenation of every field, including
// discount identifiers in declared order. Identical in-flight operations that
// depend on the same product info are deduplicated by this key.
func (p ProductInfo) CacheKey() string {
	parts := []string{
		p.ProductIdentifier,
		formatPrice(p.Price),
		p.CurrencyCode,
		strconv.Itoa(int(p.PaymentMode)),
		strconv.Itoa(int(p.IntroDurationType)),
		p.SubscriptionGroup,
		p.NormalDuration,
		p.IntroDuration,
		formatPrice(p.IntroPrice),
	}
	for _, d := range p.Discounts {
		parts = append(parts, d.OfferIdentifier)
	}
	return strings.Join(parts, "-")
}

// AsDictionary renders the backend POST body fields for a receipt post.
func (p ProductInfo) AsDictionary() map[string]interface{} {
	dict := map[string]interface{}{
		"product_id":   p.ProductIdentifier,
		"price":        p.Price,
		"currency":     p.CurrencyCode,
		"payment_mode": int(p.PaymentMode),
	}
	if p.NormalDuration != "" {
		dict["normal_duration"] = p.NormalDuration
	}
	if p.SubscriptionGroup != "" {
		dict["subscription_group_id"] = p.SubscriptionGroup
	}
	switch p.IntroDurationType {
	case types.IntroDurationTypeFreeTrial:
		dict["trial_duration"] = p.IntroDuration
	case types.IntroDurationTypeIntroPrice:
		dict["intro_duration"] = p.IntroDuration
		dict["introductory_price"] = p.IntroPrice
	}
	if len(p.Discounts) > 0 {
		offers := make([]map[string]interface{}, 0, len(p.Discounts))
		for _, d := range p.Discounts {
			offers = append(offers, map[string]interface{}{
				"offer_identifier": d.OfferIdentifier,
				"price":            d.Price,
				"payment_mode":     int(d.PaymentMode),
			})
		}
		dict["offers"] = offers
	}
	return dict
}
