package cache

import (
	"context"
	"fmt"
	"time"

	"license-gateway/internal/license"
)

// PrefixPresence keys a hash of hwid -> last heartbeat time per license
const PrefixPresence = "license:%s:presence"

// DefaultPresenceTTL bounds how long an idle license's presence hash lives
const DefaultPresenceTTL = 24 * time.Hour

var _ license.PresenceTracker = (*CacheService)(nil)

// PresenceKey generates the cache key for a license's presence hash.
func PresenceKey(licenseID string) string {
	return fmt.Sprintf(PrefixPresence, licenseID)
}

// Touch records that hwid sent a heartbeat for licenseID at the given time.
// Every touch refreshes the hash TTL.
func (cs *CacheService) Touch(ctx context.Context, licenseID, hwid string, at time.Time) error {
	key := PresenceKey(licenseID)
	return cs.run("presence touch", func() error {
		pipe := cs.client.TxPipeline()
		pipe.HSet(ctx, key, hwid, at.UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, cs.config.HeartbeatTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// LastSeen returns the last heartbeat time of every machine seen for the
// license. Unparseable entries are skipped.
func (cs *CacheService) LastSeen(ctx context.Context, licenseID string) (map[string]time.Time, error) {
	var raw map[string]string
	err := cs.run("presence read", func() error {
		var err error
		raw, err = cs.client.HGetAll(ctx, PresenceKey(licenseID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]time.Time, len(raw))
	for hwid, value := range raw {
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			cs.logger.Debug().Str("license_id", licenseID).Str("hwid", hwid).Msg("skipping malformed presence entry")
			continue
		}
		seen[hwid] = t
	}
	return seen, nil
}
