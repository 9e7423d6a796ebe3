package products

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"purchases/internal/store"
	"purchases/internal/types"
)

func TestCacheKeyDeterminism(t *testing.T) {
	info := ProductInfo{
		ProductIdentifier: "cool_product",
		PaymentMode:       types.PaymentModePayUpFront,
		CurrencyCode:      "UYU",
		Price:             49.99,
		NormalDuration:    "P3Y",
		IntroDuration:     "P3W",
		IntroDurationType: types.IntroDurationTypeIntroPrice,
		IntroPrice:        0,
		SubscriptionGroup: "cool_group",
		Discounts: []PromotionalOffer{
			{OfferIdentifier: "offerid1"},
			{OfferIdentifier: "offerid2"},
			{OfferIdentifier: "offerid3"},
		},
	}

	assert.Equal(t, "cool_product-49.99-UYU-1-0-cool_group-P3Y-P3W-0-offerid1-offerid2-offerid3", info.CacheKey())
}

func TestExtractSubscriptionWithTrial(t *testing.T) {
	product := store.Product{
		Identifier:         "pro.yearly",
		Price:              59.99,
		CurrencyCode:       "USD",
		SubscriptionPeriod: "P1Y",
		SubscriptionGroup:  "pro_group",
		IntroDiscount: &store.Discount{
			Price:              0,
			PaymentMode:        types.PaymentModeFreeTrial,
			SubscriptionPeriod: "P1W",
		},
		Discounts: []store.Discount{
			{OfferIdentifier: "winback", Price: 29.99, PaymentMode: types.PaymentModePayUpFront, SubscriptionPeriod: "P1Y"},
		},
	}

	info := Extract(product)
	assert.Equal(t, types.PaymentModeFreeTrial, info.PaymentMode)
	assert.Equal(t, types.IntroDurationTypeFreeTrial, info.IntroDurationType)
	assert.Equal(t, "P1W", info.IntroDuration)
	assert.Equal(t, "P1Y", info.NormalDuration)
	assert.Len(t, info.Discounts, 1)

	dict := info.AsDictionary()
	assert.Equal(t, "pro.yearly", dict["product_id"])
	assert.Equal(t, "P1W", dict["trial_duration"])
	assert.NotContains(t, dict, "intro_duration")
	assert.Equal(t, "pro_group", dict["subscription_group_id"])
}

func TestExtractConsumable(t *testing.T) {
	info := Extract(store.Product{Identifier: "coins.100", Price: 0.99, CurrencyCode: "USD"})

	assert.Equal(t, types.PaymentModeNone, info.PaymentMode)
	assert.Equal(t, types.IntroDurationTypeNone, info.IntroDurationType)
	assert.Empty(t, info.NormalDuration)

	dict := info.AsDictionary()
	assert.NotContains(t, dict, "normal_duration")
	assert.NotContains(t, dict, "offers")
}
