package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"tibridge/internal/geolite"
)

const (
	geoLiteUpdateLockKey       = "ti:leader:geolite_update"
	geoLiteUpdateFallbackEvery = 24 * time.Hour
)

// GeoLiteTask refreshes the country database once a day. It returns false
// when no license key is configured and there is nothing to schedule.
func GeoLiteTask(updater *geolite.Updater) (Task, bool) {
	if !updater.Enabled() {
		log.Debug("GeoLite updates disabled: MAXMIND_LICENSE_KEY not set")
		return Task{}, false
	}
	return Task{
		Name:     "geolite_update",
		LockKey:  geoLiteUpdateLockKey,
		Start:    RunImmediately,
		Fallback: geoLiteUpdateFallbackEvery,
		Interval: func() time.Duration { return geoLiteUpdateFallbackEvery },
		Run: func(ctx context.Context, reason string) error {
			err := updater.Update(ctx)
			switch {
			case errors.Is(err, geolite.ErrNoLicenseKey):
				log.Debug("GeoLite update skipped: license key missing", "reason", reason)
				return nil
			case err != nil:
				return err
			}
			log.Info("GeoLite country database updated", "reason", reason)
			return nil
		},
	}, true
}
