package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/wayfarer/internal/core"
)

// RedisBackend stores usage counters in Redis hashes keyed per (tenant,
// day), one field per tier plus request/unit totals. TTL is set by a
// separate EXPIRE after a hash's first increment and never reset on
// subsequent writes.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing Redis client. prefix namespaces keys
// (e.g. "wayfarer:usage").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "wayfarer:usage"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(tenantID, date string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, tenantID, date)
}

const (
	fieldRequests = "requests"
	fieldUnits    = "units"
)

func tierField(prefix string, tier core.Tier) string {
	return prefix + ":" + string(tier)
}

// Increment sends one pipeline (HINCRBY on requests, units, per-tier
// requests and per-tier units, plus a TTL read) in a single round trip.
// When the hash has no expiry yet, a second round trip sets it. The
// pipeline is not a MULTI transaction.
func (r *RedisBackend) Increment(ctx context.Context, tenantID, date string, tier core.Tier, units int64) error {
	key := r.key(tenantID, date)

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, fieldRequests, 1)
	pipe.HIncrBy(ctx, key, fieldUnits, units)
	pipe.HIncrBy(ctx, key, tierField("req", tier), 1)
	pipe.HIncrBy(ctx, key, tierField("units", tier), units)
	ttl := pipe.TTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("usage redis increment: %w", err)
	}

	// Set the TTL only if this was the first write (no expiry yet); never
	// reset it on subsequent increments, per spec.
	if d, ttlErr := ttl.Result(); ttlErr == nil && d < 0 {
		if err := r.client.Expire(ctx, key, TTL()).Err(); err != nil {
			return fmt.Errorf("usage redis set ttl: %w", err)
		}
	}
	return nil
}

// Get reads back one day's hash for a tenant.
func (r *RedisBackend) Get(ctx context.Context, tenantID, date string) (Snapshot, error) {
	key := r.key(tenantID, date)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return newSnapshot(tenantID, date), nil
		}
		return Snapshot{}, fmt.Errorf("usage redis get: %w", err)
	}
	snap := newSnapshot(tenantID, date)
	for k, v := range fields {
		n, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			continue
		}
		switch {
		case k == fieldRequests:
			snap.Requests = n
		case k == fieldUnits:
			snap.Units = n
		case len(k) > 4 && k[:4] == "req:":
			snap.RequestsByTier[core.Tier(k[4:])] = n
		case len(k) > 6 && k[:6] == "units:":
			snap.UnitsByTier[core.Tier(k[6:])] = n
		}
	}
	return snap, nil
}

// Range scans each date in [startDate, endDate] individually, one HGETALL
// per date; usage history is short-lived (8-day TTL), so older dates come
// back empty and are left out of the result.
func (r *RedisBackend) Range(ctx context.Context, tenantID, startDate, endDate string) ([]Snapshot, error) {
	dates, err := dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(dates))
	for _, d := range dates {
		snap, err := r.Get(ctx, tenantID, d)
		if err != nil {
			return nil, err
		}
		if snap.Requests > 0 {
			out = append(out, snap)
		}
	}
	return out, nil
}

func dateRange(startDate, endDate string) ([]string, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out, nil
}
