package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/fuel-analytics/internal/config"
	"fleet-monitor/fuel-analytics/internal/domain"
)

// activityDedupTTL suppresses repeat notifications of the same activity type
// on one sensor. Persistence is not throttled, only the pub/sub path.
const activityDedupTTL = 5 * time.Minute

type linkEntry struct {
	links     []domain.SensorLink
	expiresAt time.Time
}

type curveEntry struct {
	curve     *domain.CalibrationCurve
	ok        bool
	expiresAt time.Time
}

// RedisStore serves the sensor registry and calibration curves to the fuel
// engine, caches the latest fuel state per device, and fans activities out
// over pub/sub. Registry and calibration lookups run once per reading, so
// both sit behind a short local TTL cache.
type RedisStore struct {
	client   *redis.Client
	cacheTTL time.Duration
	stateTTL time.Duration

	linkCache  sync.Map
	curveCache sync.Map
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:   client,
		cacheTTL: time.Duration(cfg.RegistryCacheTTLSeconds) * time.Second,
		stateTTL: 3 * time.Duration(cfg.MessageFrequencySeconds) * time.Second,
	}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// LinkedSensors implements fuel.SensorRegistry. A device with no registry
// entry resolves to nil links; misses are cached like hits so unlinked
// devices do not hammer Redis on every reading.
func (r *RedisStore) LinkedSensors(ctx context.Context, deviceID string) ([]domain.SensorLink, error) {
	if raw, ok := r.linkCache.Load(deviceID); ok {
		entry := raw.(linkEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.links, nil
		}
		r.linkCache.Delete(deviceID)
	}

	key := fmt.Sprintf("device:%s:sensors", deviceID)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		r.linkCache.Store(deviceID, linkEntry{expiresAt: time.Now().Add(r.cacheTTL)})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get sensor links failed: %w", err)
	}

	var links []domain.SensorLink
	if err := json.Unmarshal([]byte(val), &links); err != nil {
		return nil, fmt.Errorf("decode sensor links for %s: %w", deviceID, err)
	}

	r.linkCache.Store(deviceID, linkEntry{links: links, expiresAt: time.Now().Add(r.cacheTTL)})
	return links, nil
}

// Calibration implements fuel.CalibrationSource. Absence of a curve is
// reported through the bool, not an error.
func (r *RedisStore) Calibration(ctx context.Context, deviceID string, sensorID int) (*domain.CalibrationCurve, bool, error) {
	cacheKey := fmt.Sprintf("%s:%d", deviceID, sensorID)
	if raw, ok := r.curveCache.Load(cacheKey); ok {
		entry := raw.(curveEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.curve, entry.ok, nil
		}
		r.curveCache.Delete(cacheKey)
	}

	key := fmt.Sprintf("calibration:%s:%d", deviceID, sensorID)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		r.curveCache.Store(cacheKey, curveEntry{expiresAt: time.Now().Add(r.cacheTTL)})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get calibration failed: %w", err)
	}

	curve, err := decodeCurve([]byte(val))
	if err != nil {
		return nil, false, fmt.Errorf("decode calibration for %s: %w", cacheKey, err)
	}

	r.curveCache.Store(cacheKey, curveEntry{curve: curve, ok: true, expiresAt: time.Now().Add(r.cacheTTL)})
	return curve, true, nil
}

// decodeCurve unmarshals a stored breakpoint list and orders it ascending by
// raw points. The interpolator's floor lookup depends on that ordering.
func decodeCurve(data []byte) (*domain.CalibrationCurve, error) {
	var points []domain.CalibrationPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("calibration curve has no points")
	}
	sort.Slice(points, func(i, j int) bool { return points[i].RawPoints < points[j].RawPoints })
	return &domain.CalibrationCurve{Points: points}, nil
}

// UpdateFuelState caches the latest calibrated level per device for
// dashboards and pushes the same snapshot over the device's level channel.
func (r *RedisStore) UpdateFuelState(ctx context.Context, reading *domain.Reading) error {
	stateData := map[string]interface{}{
		"device_id":   reading.DeviceID,
		"sensor_id":   reading.SensorID,
		"fuel_level":  reading.Level(),
		"lat":         reading.Latitude,
		"lng":         reading.Longitude,
		"timestamp":   reading.Timestamp.Unix(),
		"received_at": reading.ReceivedAt.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal fuel state: %w", err)
	}

	stateKey := fmt.Sprintf("device:%s:fuel", reading.DeviceID)
	pubChannel := fmt.Sprintf("device:%s:fuel", reading.DeviceID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, r.stateTTL)
	pipe.Publish(ctx, pubChannel, pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("device:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func activityDedupKey(a *domain.FuelActivity) string {
	return fmt.Sprintf("fuel:activity:%s:%d:%s", a.DeviceID, a.SensorID, a.Type)
}

func (r *RedisStore) CheckActivityDedup(ctx context.Context, a *domain.FuelActivity) (bool, error) {
	count, err := r.client.Exists(ctx, activityDedupKey(a)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetActivityDedup(ctx context.Context, a *domain.FuelActivity) error {
	return r.client.Set(ctx, activityDedupKey(a), a.ID, activityDedupTTL).Err()
}

func (r *RedisStore) PublishActivity(ctx context.Context, a *domain.FuelActivity) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	channel := fmt.Sprintf("device:%s:fuel-activities", a.DeviceID)
	return r.client.Publish(ctx, channel, payload).Err()
}
