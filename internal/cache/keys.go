package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const keyPrefix = "cache:"

// emptyParams is the canonical form of a parameter set with nothing in it.
// List keys always carry a parameter segment so list patterns match them.
const emptyParams = "all"

// Params are the filter parameters of a cached query.
type Params map[string]any

// Canonical renders params as sorted, colon-joined field:value pairs. Nil,
// empty and zero-time values are skipped, list values are sorted, and every
// field and value is query-escaped so no value can contain the separator or a
// glob metacharacter.
func Canonical(params Params) string {
	pairs := make([]string, 0, len(params))
	for field, raw := range params {
		v, ok := render(raw)
		if !ok {
			continue
		}
		pairs = append(pairs, url.QueryEscape(field)+":"+v)
	}
	if len(pairs) == 0 {
		return emptyParams
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ":")
}

func render(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		if v == "" {
			return "", false
		}
		return url.QueryEscape(v), true
	case []string:
		if len(v) == 0 {
			return "", false
		}
		sorted := make([]string, len(v))
		for i, s := range v {
			sorted[i] = url.QueryEscape(s)
		}
		sort.Strings(sorted)
		return strings.Join(sorted, ","), true
	case time.Time:
		if v.IsZero() {
			return "", false
		}
		return url.QueryEscape(v.UTC().Format(time.RFC3339Nano)), true
	case *string:
		if v == nil {
			return "", false
		}
		return render(*v)
	case fmt.Stringer:
		return render(v.String())
	default:
		return url.QueryEscape(fmt.Sprint(v)), true
	}
}

func scope(tenant string) string {
	return keyPrefix + url.QueryEscape(tenant) + ":"
}

// GenerationKey is the tenant's invalidation counter. No pattern matches it.
func GenerationKey(tenant string) string {
	return scope(tenant) + "generation"
}

// generationKeyOf returns the counter of the tenant that owns key, or the
// empty string for keys outside the tenant layout.
func generationKeyOf(key string) string {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return ""
	}
	tenant, _, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	return keyPrefix + tenant + ":generation"
}

// DeviceKey is the key of one device.
func DeviceKey(tenant, deviceID string) string {
	return scope(tenant) + "device:" + url.QueryEscape(deviceID)
}

// DeviceListKey is the key of one filtered device list page.
func DeviceListKey(tenant string, params Params) string {
	return scope(tenant) + "devices:list:" + Canonical(params)
}

// DeviceListPattern matches every device list of a tenant.
func DeviceListPattern(tenant string) string {
	return scope(tenant) + "devices:list:*"
}

// MetadataKey is the key of the tenant's device metadata aggregate.
func MetadataKey(tenant string) string {
	return scope(tenant) + "devices:metadata:" + emptyParams
}

// MetadataPattern matches the tenant's metadata aggregates.
func MetadataPattern(tenant string) string {
	return scope(tenant) + "devices:metadata:*"
}

// HealthKey is the key of a device health summary.
func HealthKey(tenant string, params Params) string {
	return scope(tenant) + "devices:health:" + Canonical(params)
}

// HealthPattern matches every health summary of a tenant.
func HealthPattern(tenant string) string {
	return scope(tenant) + "devices:health:*"
}

// ReadingsKey is the key of one readings query.
func ReadingsKey(tenant string, params Params) string {
	return scope(tenant) + "readings:" + Canonical(params)
}

// ReadingsPattern matches every readings query of a tenant.
func ReadingsPattern(tenant string) string {
	return scope(tenant) + "readings:*"
}

// ScheduleListKey is the key of one filtered schedule list page.
func ScheduleListKey(tenant string, params Params) string {
	return scope(tenant) + "schedules:list:" + Canonical(params)
}

// SchedulePattern matches every schedule list of a tenant.
func SchedulePattern(tenant string) string {
	return scope(tenant) + "schedules:*"
}
