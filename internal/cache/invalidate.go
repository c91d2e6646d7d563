package cache

import (
	"context"
	"sync"
)

// invalidation is one key or pattern to drop.
type invalidation struct {
	key     string
	pattern string
}

// run advances the tenant generation, then drops every target in parallel
// and waits. Failures are logged.
func (c *Cache) run(ctx context.Context, tenant, scope string, targets []invalidation) {
	if !c.Enabled() {
		return
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidations.WithLabelValues(scope).Inc()
	}
	c.bumpGeneration(ctx, tenant)

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t invalidation) {
			defer wg.Done()
			if t.key != "" {
				c.Del(ctx, t.key)
				return
			}
			if _, err := c.DelPattern(ctx, t.pattern); err != nil {
				c.log.Warn("cache invalidation failed",
					"scope", scope, "pattern", t.pattern, "error", err)
			}
		}(t)
	}
	wg.Wait()
}

// InvalidateDevice runs after a device update or delete commits.
func (c *Cache) InvalidateDevice(ctx context.Context, tenant, deviceID string) {
	c.run(ctx, tenant, "device", []invalidation{
		{key: DeviceKey(tenant, deviceID)},
		{pattern: DeviceListPattern(tenant)},
		{pattern: MetadataPattern(tenant)},
		{pattern: HealthPattern(tenant)},
	})
}

// InvalidateDeviceCreated runs after a device create commits. No entity key
// exists yet.
func (c *Cache) InvalidateDeviceCreated(ctx context.Context, tenant string) {
	c.run(ctx, tenant, "device_created", []invalidation{
		{pattern: DeviceListPattern(tenant)},
		{pattern: MetadataPattern(tenant)},
		{pattern: HealthPattern(tenant)},
	})
}

// InvalidateReadings runs after readings ingestion commits. Health depends
// on last-seen timestamps derived from readings.
func (c *Cache) InvalidateReadings(ctx context.Context, tenant string) {
	c.run(ctx, tenant, "readings", []invalidation{
		{pattern: ReadingsPattern(tenant)},
		{pattern: HealthPattern(tenant)},
	})
}

// InvalidateSchedules runs after any schedule mutation commits.
func (c *Cache) InvalidateSchedules(ctx context.Context, tenant string) {
	c.run(ctx, tenant, "schedules", []invalidation{
		{pattern: SchedulePattern(tenant)},
	})
}
