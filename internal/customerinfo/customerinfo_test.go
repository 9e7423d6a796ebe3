package customerinfo

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purchases/internal/types"
)

func validPayload(requestDate string) string {
	return fmt.Sprintf(`{
		"request_date": "%s",
		"subscriber": {
			"original_app_user_id": "app_user_id",
			"first_seen": "2019-06-17T16:05:33Z",
			"original_application_version": "2.0.1",
			"management_url": "https://example.com/manage",
			"subscriptions": {
				"pro.monthly": {
					"expires_date": "2100-08-30T02:40:36Z",
					"purchase_date": "2019-07-26T23:45:40Z",
					"original_purchase_date": "2019-07-26T23:30:41Z",
					"period_type": "normal",
					"store": "app_store",
					"is_sandbox": false
				}
			},
			"non_subscriptions": {
				"coins.100": [
					{
						"id": "d6c007ba74",
						"purchase_date": "2019-07-26T23:45:40Z",
						"is_sandbox": true,
						"store": "app_store"
					},
					{
						"id": "b6c007ba74",
						"purchase_date": "2019-07-26T23:20:40Z",
						"is_sandbox": true,
						"store": "app_store"
					}
				]
			},
			"entitlements": {
				"pro": {
					"product_identifier": "pro.monthly",
					"expires_date": "2100-08-30T02:40:36Z",
					"purchase_date": "2019-07-26T23:45:40Z"
				}
			}
		}
	}`, requestDate)
}

func TestParseRequiresRequestDate(t *testing.T) {
	_, err := Parse([]byte(`{"subscriber": {"original_app_user_id": "u", "first_seen": "2019-06-17T16:05:33Z"}}`))
	assert.Error(t, err)

	// Malformed date must also fail construction.
	_, err = Parse([]byte(validPayload("2019-08-110:30:42Z")))
	assert.Error(t, err)
}

func TestParseRequiresOriginalAppUserID(t *testing.T) {
	_, err := Parse([]byte(`{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {"first_seen": "2019-06-17T16:05:33Z"}
	}`))
	assert.Error(t, err)

	// Empty string is present, and therefore valid.
	info, err := Parse([]byte(`{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {"original_app_user_id": "", "first_seen": "2019-06-17T16:05:33Z"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "", info.OriginalAppUserID)
}

func TestParseRequiresFirstSeen(t *testing.T) {
	_, err := Parse([]byte(`{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {"original_app_user_id": "u"}
	}`))
	assert.Error(t, err)
}

func TestParseValidPayload(t *testing.T) {
	info, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)

	assert.Equal(t, "app_user_id", info.OriginalAppUserID)
	assert.Equal(t, "2.0.1", info.OriginalApplicationVersion)
	assert.Equal(t, "https://example.com/manage", info.ManagementURL)
	assert.Equal(t, []string{"pro.monthly"}, info.ActiveSubscriptions())
	assert.Equal(t, []string{"coins.100", "pro.monthly"}, info.AllPurchasedProductIdentifiers())

	pro, ok := info.Entitlements.All["pro"]
	require.True(t, ok)
	assert.True(t, pro.IsActive)
	assert.True(t, pro.WillRenew)
	assert.Equal(t, types.StoreAppStore, pro.Store)
	assert.Equal(t, types.PeriodTypeNormal, pro.PeriodType)
}

func TestJSONObjectRoundTrip(t *testing.T) {
	a, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)

	blob, err := a.JSONObject()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, CachedSchemaVersion(blob))

	b, err := Parse(blob)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestEqualityIgnoresFetchTime(t *testing.T) {
	a, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)
	b, err := Parse([]byte(validPayload("2020-01-01T00:00:00Z")))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
}

func TestEqualityDetectsContentChanges(t *testing.T) {
	a, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)

	b, err := Parse([]byte(`{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {
			"original_app_user_id": "app_user_id",
			"first_seen": "2019-06-17T16:05:33Z"
		}
	}`))
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
}

func TestEntitlementActivityInvariant(t *testing.T) {
	info, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)

	for _, e := range info.Entitlements.All {
		expected := e.ExpirationDate == nil || e.ExpirationDate.After(info.RequestDate)
		assert.Equal(t, expected, e.IsActive, "entitlement %s", e.Identifier)
	}
}

func TestExpiredEntitlementInactive(t *testing.T) {
	payload := `{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {
			"original_app_user_id": "u",
			"first_seen": "2019-06-17T16:05:33Z",
			"subscriptions": {},
			"entitlements": {
				"pro": {"product_identifier": "pro.monthly", "expires_date": "2019-07-01T00:00:00Z"}
			}
		}
	}`
	info, err := Parse([]byte(payload))
	require.NoError(t, err)

	pro := info.Entitlements.All["pro"]
	assert.False(t, pro.IsActive)
	assert.Empty(t, info.Entitlements.Active())
}

func TestNullExpirationTreatedAsLifetime(t *testing.T) {
	payload := `{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {
			"original_app_user_id": "u",
			"first_seen": "2019-06-17T16:05:33Z",
			"entitlements": {
				"forever": {"product_identifier": "lifetime", "expires_date": null}
			}
		}
	}`
	info, err := Parse([]byte(payload))
	require.NoError(t, err)

	forever := info.Entitlements.All["forever"]
	assert.True(t, forever.IsActive)
	assert.False(t, forever.WillRenew)

	expiration, err := info.ExpirationDateForEntitlement("forever")
	require.NoError(t, err)
	assert.Nil(t, expiration)
}

func TestWillRenewFalseOnUnsubscribeOrBillingIssue(t *testing.T) {
	template := `{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {
			"original_app_user_id": "u",
			"first_seen": "2019-06-17T16:05:33Z",
			"subscriptions": {
				"pro.monthly": {
					"expires_date": "2100-08-30T02:40:36Z",
					"period_type": "normal",
					"store": "%s"
					%s
				}
			},
			"entitlements": {
				"pro": {"product_identifier": "pro.monthly", "expires_date": "2100-08-30T02:40:36Z"}
			}
		}
	}`

	cases := []struct {
		name      string
		store     string
		extra     string
		willRenew bool
	}{
		{"renewing", "app_store", "", true},
		{"unsubscribed", "app_store", `,"unsubscribe_detected_at": "2019-07-27T00:00:00Z"`, false},
		{"billing issue", "app_store", `,"billing_issues_detected_at": "2019-07-27T00:00:00Z"`, false},
		{"promotional", "promotional", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := Parse([]byte(fmt.Sprintf(template, tc.store, tc.extra)))
			require.NoError(t, err)
			assert.Equal(t, tc.willRenew, info.Entitlements.All["pro"].WillRenew)
		})
	}
}

func TestEntitlementWithoutTransactionDetail(t *testing.T) {
	payload := `{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {
			"original_app_user_id": "u",
			"first_seen": "2019-06-17T16:05:33Z",
			"entitlements": {
				"pro": {
					"product_identifier": "missing.product",
					"expires_date": "2100-08-30T02:40:36Z",
					"purchase_date": "2019-07-26T23:45:40Z"
				}
			}
		}
	}`
	info, err := Parse([]byte(payload))
	require.NoError(t, err)

	pro := info.Entitlements.All["pro"]
	assert.True(t, pro.IsActive)
	assert.Equal(t, types.StoreUnknown, pro.Store)
	require.NotNil(t, pro.LatestPurchaseDate)
}

func TestUnrecognizedEnumsNormalize(t *testing.T) {
	payload := `{
		"request_date": "2019-08-16T10:30:42Z",
		"subscriber": {
			"original_app_user_id": "u",
			"first_seen": "2019-06-17T16:05:33Z",
			"subscriptions": {
				"pro.monthly": {
					"expires_date": "2100-08-30T02:40:36Z",
					"period_type": "quarterly_special",
					"store": "some_new_store"
				}
			},
			"entitlements": {
				"pro": {"product_identifier": "pro.monthly", "expires_date": "2100-08-30T02:40:36Z"}
			}
		}
	}`
	info, err := Parse([]byte(payload))
	require.NoError(t, err)

	pro := info.Entitlements.All["pro"]
	assert.Equal(t, types.PeriodTypeNormal, pro.PeriodType)
	assert.Equal(t, types.StoreUnknown, pro.Store)
}

func TestNonSubscriptionTransactionsOrdered(t *testing.T) {
	info, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)

	txns := info.NonSubscriptionTransactions()
	require.Len(t, txns, 2)
	assert.Equal(t, "b6c007ba74", txns[0].ID)
	assert.Equal(t, "d6c007ba74", txns[1].ID)
	assert.True(t, txns[0].PurchaseDate.Before(txns[1].PurchaseDate))
}

func TestLatestExpirationDate(t *testing.T) {
	info, err := Parse([]byte(validPayload("2019-08-16T10:30:42Z")))
	require.NoError(t, err)

	latest := info.LatestExpirationDate()
	require.NotNil(t, latest)
	expected, _ := time.Parse(time.RFC3339, "2100-08-30T02:40:36Z")
	assert.True(t, latest.Equal(expected))
}
