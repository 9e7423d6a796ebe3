package devicecache

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"purchases/internal/customerinfo"
)

// Staleness thresholds. Foreground activations refresh aggressively;
// background reads tolerate a much older cache.
const (
	CustomerInfoStalenessForeground = 5 * time.Minute
	CustomerInfoStalenessBackground = 25 * time.Hour
	OfferingsStaleness              = 5 * time.Minute
)

const (
	appUserIDKey       = "purchases:app_user_id"
	legacyAppUserIDKey = "purchases:legacy_app_user_id"
)

func subscriberKey(appUserID string) string {
	return fmt.Sprintf("purchases:subscriber:%s", appUserID)
}

func subscriberUpdatedKey(appUserID string) string {
	return fmt.Sprintf("purchases:subscriber:%s:updated_at", appUserID)
}

func offeringsKey(appUserID string) string {
	return fmt.Sprintf("purchases:offerings:%s", appUserID)
}

func offeringsUpdatedKey(appUserID string) string {
	return fmt.Sprintf("purchases:offerings:%s:updated_at", appUserID)
}

// DeviceCache persists the current app-user-id, cached CustomerInfo blobs and
// offerings cache timestamps. All mutations go through one mutex so callers
// on any goroutine see a consistent view.
type DeviceCache struct {
	mu  sync.Mutex
	kv  KVStore
	now func() time.Time
}

func New(kv KVStore) *DeviceCache {
	return &DeviceCache{kv: kv, now: time.Now}
}

// SetNowForTesting overrides the clock used for staleness checks.
func (d *DeviceCache) SetNowForTesting(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// CachedAppUserID returns the persisted app-user-id, or "".
func (d *DeviceCache) CachedAppUserID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.kv.Get(appUserIDKey)
	if err != nil {
		return ""
	}
	return id
}

// CachedLegacyAppUserID returns the id persisted by older SDK versions, or "".
func (d *DeviceCache) CachedLegacyAppUserID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.kv.Get(legacyAppUserIDKey)
	if err != nil {
		return ""
	}
	return id
}

// CacheAppUserID persists the current app-user-id.
func (d *DeviceCache) CacheAppUserID(appUserID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Set(appUserIDKey, appUserID, 0); err != nil {
		glog.Errorf("failed to cache app user id: %v", err)
	}
}

// ClearCachesForAppUserID removes every cache entry keyed by the given id and
// the current-id slot. Other users' caches are untouched.
func (d *DeviceCache) ClearCachesForAppUserID(oldAppUserID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range []string{
		appUserIDKey,
		legacyAppUserIDKey,
		subscriberKey(oldAppUserID),
		subscriberUpdatedKey(oldAppUserID),
		offeringsKey(oldAppUserID),
		offeringsUpdatedKey(oldAppUserID),
	} {
		if err := d.kv.Del(key); err != nil {
			glog.Warningf("failed to clear cache key %s: %v", key, err)
		}
	}
}

// CacheCustomerInfo stores the snapshot's JSON (schema version injected) and
// stamps the customer-info cache timestamp.
func (d *DeviceCache) CacheCustomerInfo(appUserID string, info *customerinfo.CustomerInfo) error {
	blob, err := info.JSONObject()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Set(subscriberKey(appUserID), string(blob), 0); err != nil {
		return err
	}
	return d.kv.Set(subscriberUpdatedKey(appUserID), d.now().Format(time.RFC3339Nano), 0)
}

// CachedCustomerInfo loads and parses the cached snapshot for an app-user-id.
// A missing blob, a schema-version mismatch or a parse failure are all treated
// as a cache miss (nil, nil) — the caller resyncs from the backend.
func (d *DeviceCache) CachedCustomerInfo(appUserID string) *customerinfo.CustomerInfo {
	d.mu.Lock()
	blob, err := d.kv.Get(subscriberKey(appUserID))
	d.mu.Unlock()
	if err != nil || blob == "" {
		return nil
	}

	if v := customerinfo.CachedSchemaVersion([]byte(blob)); v != customerinfo.SchemaVersion {
		glog.Infof("discarding cached customer info for %s: schema version %d != %d", appUserID, v, customerinfo.SchemaVersion)
		return nil
	}

	info, err := customerinfo.Parse([]byte(blob))
	if err != nil {
		glog.Warningf("discarding unparseable cached customer info for %s: %v", appUserID, err)
		return nil
	}
	return info
}

// IsCustomerInfoCacheStale reports whether the cached snapshot is older than
// the threshold for the given activation state. A missing timestamp is stale.
func (d *DeviceCache) IsCustomerInfoCacheStale(appUserID string, foreground bool) bool {
	threshold := CustomerInfoStalenessBackground
	if foreground {
		threshold = CustomerInfoStalenessForeground
	}
	return d.timestampOlderThan(subscriberUpdatedKey(appUserID), threshold)
}

// ClearCustomerInfoCacheTimestamp forces the next staleness check to report
// stale without dropping the cached value.
func (d *DeviceCache) ClearCustomerInfoCacheTimestamp(appUserID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Del(subscriberUpdatedKey(appUserID)); err != nil {
		glog.Warningf("failed to clear customer info timestamp: %v", err)
	}
}

// CacheOfferings stores the raw offerings payload and stamps the offerings
// timestamp. The offerings timestamp is independent of the customer-info one.
func (d *DeviceCache) CacheOfferings(appUserID string, raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Set(offeringsKey(appUserID), string(raw), 0); err != nil {
		return err
	}
	return d.kv.Set(offeringsUpdatedKey(appUserID), d.now().Format(time.RFC3339Nano), 0)
}

// CachedOfferings returns the raw cached offerings payload, or nil.
func (d *DeviceCache) CachedOfferings(appUserID string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	blob, err := d.kv.Get(offeringsKey(appUserID))
	if err != nil || blob == "" {
		return nil
	}
	return []byte(blob)
}

// IsOfferingsCacheStale reports whether the offerings cache needs a refresh.
func (d *DeviceCache) IsOfferingsCacheStale(appUserID string) bool {
	return d.timestampOlderThan(offeringsUpdatedKey(appUserID), OfferingsStaleness)
}

// ClearOfferingsCacheTimestamp invalidates the offerings cache only; the
// customer-info cache is not touched.
func (d *DeviceCache) ClearOfferingsCacheTimestamp(appUserID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Del(offeringsUpdatedKey(appUserID)); err != nil {
		glog.Warningf("failed to clear offerings timestamp: %v", err)
	}
}

func (d *DeviceCache) timestampOlderThan(key string, threshold time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.kv.Get(key)
	if err != nil || raw == "" {
		return true
	}
	stamped, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return true
	}
	return d.now().Sub(stamped) >= threshold
}
