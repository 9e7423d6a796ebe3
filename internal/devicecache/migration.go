package devicecache

import (
	"github.com/Masterminds/semver/v3"
	"github.com/golang/glog"
)

const sdkVersionKey = "purchases:sdk_version"

// versionOlderThan reports whether cached is a valid semver strictly older
// than current. Unparseable versions are treated as not-older.
func versionOlderThan(cached, current string) bool {
	vCached, err := semver.NewVersion(cached)
	if err != nil {
		glog.Warningf("invalid cached version:%s %s", cached, err.Error())
		return false
	}

	vCurrent, err := semver.NewVersion(current)
	if err != nil {
		glog.Warningf("invalid current version:%s %s", current, err.Error())
		return false
	}

	return vCached.LessThan(vCurrent)
}

// Migrate records the running SDK version and, when it supersedes the version
// that last wrote this cache, drops the staleness stamps so every user
// resyncs against the upgraded code. Cached blobs themselves are kept; the
// schema-version guard on read handles incompatible ones.
func (d *DeviceCache) Migrate(currentVersion string) {
	d.mu.Lock()
	cached, err := d.kv.Get(sdkVersionKey)
	d.mu.Unlock()

	if err == nil && cached == currentVersion {
		return
	}

	if err == nil && cached != "" && versionOlderThan(cached, currentVersion) {
		glog.Infof("cache written by SDK %s, upgrading to %s: forcing resync", cached, currentVersion)
		if id := d.CachedAppUserID(); id != "" {
			d.ClearCustomerInfoCacheTimestamp(id)
			d.ClearOfferingsCacheTimestamp(id)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Set(sdkVersionKey, currentVersion, 0); err != nil {
		glog.Errorf("failed to record sdk version: %v", err)
	}
}
