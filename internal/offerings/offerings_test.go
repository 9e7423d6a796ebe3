package offerings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/store"
)

const offeringsPayload = `{
	"current_offering_id": "default",
	"offerings": [
		{
			"identifier": "default",
			"description": "standard set",
			"packages": [
				{"identifier": "$rc_monthly", "platform_product_identifier": "pro.monthly"},
				{"identifier": "$rc_annual", "platform_product_identifier": "pro.annual"},
				{"identifier": "supporter", "platform_product_identifier": "pro.supporter"}
			]
		},
		{
			"identifier": "holiday",
			"description": "seasonal",
			"packages": [
				{"identifier": "$rc_monthly", "platform_product_identifier": "holiday.monthly"}
			]
		}
	]
}`

func resolvedProducts(ids ...string) map[string]store.Product {
	out := make(map[string]store.Product, len(ids))
	for _, id := range ids {
		out[id] = store.Product{Identifier: id}
	}
	return out
}

func TestParsePackageType(t *testing.T) {
	assert.Equal(t, PackageTypeLifetime, ParsePackageType("$rc_lifetime"))
	assert.Equal(t, PackageTypeAnnual, ParsePackageType("$rc_annual"))
	assert.Equal(t, PackageTypeSixMonth, ParsePackageType("$rc_six_month"))
	assert.Equal(t, PackageTypeThreeMonth, ParsePackageType("$rc_three_month"))
	assert.Equal(t, PackageTypeTwoMonth, ParsePackageType("$rc_two_month"))
	assert.Equal(t, PackageTypeMonthly, ParsePackageType("$rc_monthly"))
	assert.Equal(t, PackageTypeWeekly, ParsePackageType("$rc_weekly"))
	assert.Equal(t, PackageTypeCustom, ParsePackageType("supporter"))
	assert.Equal(t, PackageTypeUnknown, ParsePackageType("$rc_quarterly"))
}

func TestCreateOfferingsResolvesAllPackages(t *testing.T) {
	offerings := CreateOfferings(
		[]byte(offeringsPayload),
		resolvedProducts("pro.monthly", "pro.annual", "pro.supporter", "holiday.monthly"),
	)
	require.NotNil(t, offerings)
	require.Len(t, offerings.All, 2)

	current := offerings.Current()
	require.NotNil(t, current)
	assert.Equal(t, "default", current.Identifier)
	require.Len(t, current.AvailablePackages, 3)

	// Declared order is preserved.
	assert.Equal(t, "$rc_monthly", current.AvailablePackages[0].Identifier)
	assert.Equal(t, "$rc_annual", current.AvailablePackages[1].Identifier)
	assert.Equal(t, "supporter", current.AvailablePackages[2].Identifier)
	assert.Equal(t, PackageTypeCustom, current.AvailablePackages[2].Type)

	monthly, ok := current.Monthly()
	require.True(t, ok)
	assert.Equal(t, "pro.monthly", monthly.Product.Identifier)
}

func TestUnresolvablePackagesSilentlyDropped(t *testing.T) {
	offerings := CreateOfferings([]byte(offeringsPayload), resolvedProducts("pro.annual"))
	require.NotNil(t, offerings)

	current := offerings.Current()
	require.NotNil(t, current)
	require.Len(t, current.AvailablePackages, 1)
	assert.Equal(t, "$rc_annual", current.AvailablePackages[0].Identifier)

	// The holiday offering had no resolvable package and is dropped entirely.
	assert.Nil(t, offerings.Offering("holiday"))
	assert.Len(t, offerings.All, 1)
}

func TestCurrentNilWhenCurrentOfferingDropped(t *testing.T) {
	offerings := CreateOfferings([]byte(offeringsPayload), resolvedProducts("holiday.monthly"))
	require.NotNil(t, offerings)

	// "default" resolved nothing; Current must be nil, not a fallback.
	assert.Nil(t, offerings.Current())
	assert.NotNil(t, offerings.Offering("holiday"))
}

func TestMalformedPayloadYieldsNoContainer(t *testing.T) {
	assert.Nil(t, CreateOfferings([]byte(`{"current_offering_id": "x"}`), nil))
	assert.Nil(t, CreateOfferings([]byte(`not json`), nil))
}

func TestEmptyOfferingsArrayIsValid(t *testing.T) {
	offerings := CreateOfferings([]byte(`{"offerings": [], "current_offering_id": ""}`), nil)
	require.NotNil(t, offerings)
	assert.Empty(t, offerings.All)
	assert.Nil(t, offerings.Current())
}
