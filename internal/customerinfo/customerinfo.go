package customerinfo

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/golang/glog"

	"purchases/internal/types"
)

// SchemaVersion tags cached snapshots. A cached blob with a different version
// is discarded on reload instead of parsed.
const SchemaVersion = 2

const dateLayout = time.RFC3339

// CustomerInfo is an immutable snapshot of the backend's subscriber state.
// It is never mutated after construction; a newer snapshot supersedes it.
type CustomerInfo struct {
	OriginalAppUserID          string
	FirstSeen                  time.Time
	OriginalApplicationVersion string
	OriginalPurchaseDate       *time.Time
	ManagementURL              string
	RequestDate                time.Time
	Entitlements               EntitlementInfos

	subscriptions    map[string]Subscription
	nonSubscriptions map[string][]NonSubscriptionTransaction

	raw            map[string]interface{} // preserved backend payload
	subscriberNorm interface{}            // normalized subscriber object, for equality
}

// Subscription is the backend's record for one subscription product.
type Subscription struct {
	ProductIdentifier       string
	ExpiresDate             *time.Time
	PurchaseDate            *time.Time
	OriginalPurchaseDate    *time.Time
	PeriodType              types.PeriodType
	Store                   types.Store
	IsSandbox               bool
	UnsubscribeDetectedAt   *time.Time
	BillingIssuesDetectedAt *time.Time
}

// NonSubscriptionTransaction is one consumable purchase. A product may have
// many of these; they are kept in purchase-date order.
type NonSubscriptionTransaction struct {
	ID                string
	ProductIdentifier string
	PurchaseDate      time.Time
	IsSandbox         bool
	Store             types.Store
}

type subscriptionPayload struct {
	ExpiresDate             *string `json:"expires_date"`
	PurchaseDate            *string `json:"purchase_date"`
	OriginalPurchaseDate    *string `json:"original_purchase_date"`
	PeriodType              string  `json:"period_type"`
	Store                   string  `json:"store"`
	IsSandbox               bool    `json:"is_sandbox"`
	UnsubscribeDetectedAt   *string `json:"unsubscribe_detected_at"`
	BillingIssuesDetectedAt *string `json:"billing_issues_detected_at"`
}

type nonSubscriptionPayload struct {
	ID           string `json:"id"`
	PurchaseDate string `json:"purchase_date"`
	IsSandbox    bool   `json:"is_sandbox"`
	Store        string `json:"store"`
}

type entitlementPayload struct {
	ProductIdentifier string  `json:"product_identifier"`
	ExpiresDate       *string `json:"expires_date"`
	PurchaseDate      *string `json:"purchase_date"`
}

type subscriberPayload struct {
	OriginalAppUserID          *string                              `json:"original_app_user_id"`
	FirstSeen                  *string                              `json:"first_seen"`
	OriginalApplicationVersion string                               `json:"original_application_version"`
	OriginalPurchaseDate       *string                              `json:"original_purchase_date"`
	ManagementURL              *string                              `json:"management_url"`
	Subscriptions              map[string]subscriptionPayload       `json:"subscriptions"`
	NonSubscriptions           map[string][]nonSubscriptionPayload  `json:"non_subscriptions"`
	Entitlements               map[string]entitlementPayload        `json:"entitlements"`
}

type envelope struct {
	RequestDate *string            `json:"request_date"`
	Subscriber  *subscriberPayload `json:"subscriber"`
}

// parseDate parses a backend ISO-8601 date. Returns nil on malformed input so
// optional fields degrade to absent.
func parseDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}

// Parse builds a CustomerInfo from a backend (or cached) JSON payload.
// Construction fails if request_date, subscriber.original_app_user_id or
// subscriber.first_seen are missing or malformed; callers treat failure as
// "discard and resync", never as a crash.
func Parse(raw []byte) (*CustomerInfo, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedBackendResponse, err, "malformed subscriber payload")
	}

	requestDate := parseDate(env.RequestDate)
	if requestDate == nil {
		return nil, types.NewError(types.ErrUnexpectedBackendResponse, "missing or malformed request_date")
	}
	if env.Subscriber == nil || env.Subscriber.OriginalAppUserID == nil {
		return nil, types.NewError(types.ErrUnexpectedBackendResponse, "missing subscriber.original_app_user_id")
	}
	firstSeen := parseDate(env.Subscriber.FirstSeen)
	if firstSeen == nil {
		return nil, types.NewError(types.ErrUnexpectedBackendResponse, "missing or malformed subscriber.first_seen")
	}

	sub := env.Subscriber

	info := &CustomerInfo{
		OriginalAppUserID:          *sub.OriginalAppUserID,
		FirstSeen:                  *firstSeen,
		OriginalApplicationVersion: sub.OriginalApplicationVersion,
		OriginalPurchaseDate:       parseDate(sub.OriginalPurchaseDate),
		RequestDate:                *requestDate,
		subscriptions:              make(map[string]Subscription, len(sub.Subscriptions)),
		nonSubscriptions:           make(map[string][]NonSubscriptionTransaction, len(sub.NonSubscriptions)),
	}
	if sub.ManagementURL != nil {
		info.ManagementURL = *sub.ManagementURL
	}

	for productID, payload := range sub.Subscriptions {
		info.subscriptions[productID] = Subscription{
			ProductIdentifier:       productID,
			ExpiresDate:             parseDate(payload.ExpiresDate),
			PurchaseDate:            parseDate(payload.PurchaseDate),
			OriginalPurchaseDate:    parseDate(payload.OriginalPurchaseDate),
			PeriodType:              types.ParsePeriodType(payload.PeriodType),
			Store:                   types.ParseStore(payload.Store),
			IsSandbox:               payload.IsSandbox,
			UnsubscribeDetectedAt:   parseDate(payload.UnsubscribeDetectedAt),
			BillingIssuesDetectedAt: parseDate(payload.BillingIssuesDetectedAt),
		}
	}

	for productID, payloads := range sub.NonSubscriptions {
		txns := make([]NonSubscriptionTransaction, 0, len(payloads))
		for _, payload := range payloads {
			purchaseDate := parseDate(&payload.PurchaseDate)
			if purchaseDate == nil {
				glog.Warningf("dropping non-subscription transaction %s with malformed purchase_date", payload.ID)
				continue
			}
			txns = append(txns, NonSubscriptionTransaction{
				ID:                payload.ID,
				ProductIdentifier: productID,
				PurchaseDate:      *purchaseDate,
				IsSandbox:         payload.IsSandbox,
				Store:             types.ParseStore(payload.Store),
			})
		}
		sort.Slice(txns, func(i, j int) bool { return txns[i].PurchaseDate.Before(txns[j].PurchaseDate) })
		info.nonSubscriptions[productID] = txns
	}

	info.Entitlements = buildEntitlements(sub.Entitlements, info.subscriptions, info.nonSubscriptions, *requestDate)

	// Preserve the raw payload for cache round-tripping, and a normalized
	// subscriber object for fetch-time-independent equality.
	if err := json.Unmarshal(raw, &info.raw); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedBackendResponse, err, "malformed subscriber payload")
	}
	subscriberRaw, err := json.Marshal(info.raw["subscriber"])
	if err != nil {
		return nil, types.WrapError(types.ErrUnexpectedBackendResponse, err, "subscriber payload not re-serializable")
	}
	if err := json.Unmarshal(subscriberRaw, &info.subscriberNorm); err != nil {
		return nil, types.WrapError(types.ErrUnexpectedBackendResponse, err, "subscriber payload not re-serializable")
	}

	return info, nil
}

// JSONObject re-serializes the preserved payload with the current schema
// version injected, for cache storage.
func (c *CustomerInfo) JSONObject() ([]byte, error) {
	obj := make(map[string]interface{}, len(c.raw)+1)
	for k, v := range c.raw {
		obj[k] = v
	}
	obj["schema_version"] = SchemaVersion
	return json.Marshal(obj)
}

// CachedSchemaVersion reads the schema_version tag of a cached blob.
// Returns -1 when the tag is missing or unreadable.
func CachedSchemaVersion(raw []byte) int {
	var probe struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.SchemaVersion == nil {
		return -1
	}
	return *probe.SchemaVersion
}

// Equal compares subscriber content, not fetch time: two snapshots fetched at
// different times with identical subscriber state are equal.
func (c *CustomerInfo) Equal(other *CustomerInfo) bool {
	if c == nil || other == nil {
		return c == other
	}
	return reflect.DeepEqual(c.subscriberNorm, other.subscriberNorm)
}

// Subscriptions returns the subscription record for a product identifier.
func (c *CustomerInfo) Subscription(productID string) (Subscription, bool) {
	s, ok := c.subscriptions[productID]
	return s, ok
}

// ActiveSubscriptions returns product identifiers whose subscription record
// has no expiry or expires after the snapshot's request date.
func (c *CustomerInfo) ActiveSubscriptions() []string {
	var active []string
	for productID, sub := range c.subscriptions {
		if sub.ExpiresDate == nil || sub.ExpiresDate.After(c.RequestDate) {
			active = append(active, productID)
		}
	}
	sort.Strings(active)
	return active
}

// AllPurchasedProductIdentifiers returns every product id seen in
// subscriptions or non-subscription transactions.
func (c *CustomerInfo) AllPurchasedProductIdentifiers() []string {
	seen := make(map[string]bool)
	for productID := range c.subscriptions {
		seen[productID] = true
	}
	for productID := range c.nonSubscriptions {
		seen[productID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NonSubscriptionTransactions returns all consumable purchases ordered by
// purchase date.
func (c *CustomerInfo) NonSubscriptionTransactions() []NonSubscriptionTransaction {
	var all []NonSubscriptionTransaction
	for _, txns := range c.nonSubscriptions {
		all = append(all, txns...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PurchaseDate.Before(all[j].PurchaseDate) })
	return all
}

// ExpirationDateForEntitlement returns the entitlement's expiration date; nil
// means the entitlement does not expire.
func (c *CustomerInfo) ExpirationDateForEntitlement(identifier string) (*time.Time, error) {
	e, ok := c.Entitlements.All[identifier]
	if !ok {
		return nil, types.NewError(types.ErrUnknown, "no entitlement %q", identifier)
	}
	return e.ExpirationDate, nil
}

// ExpirationDateForProduct returns the subscription expiry for a product id;
// nil means no expiry.
func (c *CustomerInfo) ExpirationDateForProduct(productID string) (*time.Time, error) {
	sub, ok := c.subscriptions[productID]
	if !ok {
		return nil, types.NewError(types.ErrUnknown, "no subscription for product %q", productID)
	}
	return sub.ExpiresDate, nil
}

// LatestExpirationDate returns the furthest-out expiration across active
// subscriptions, or nil when a non-expiring purchase exists.
func (c *CustomerInfo) LatestExpirationDate() *time.Time {
	var latest *time.Time
	for _, sub := range c.subscriptions {
		if sub.ExpiresDate == nil {
			continue
		}
		if !sub.ExpiresDate.After(c.RequestDate) {
			continue
		}
		if latest == nil || sub.ExpiresDate.After(*latest) {
			latest = sub.ExpiresDate
		}
	}
	return latest
}

func (c *CustomerInfo) String() string {
	return fmt.Sprintf("CustomerInfo{user=%s requestDate=%s entitlements=%d subscriptions=%d}",
		c.OriginalAppUserID, c.RequestDate.Format(dateLayout), len(c.Entitlements.All), len(c.subscriptions))
}
