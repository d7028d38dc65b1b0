package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"fleet-monitor/fuel-analytics/internal/domain"
)

// seedFile is the YAML fixture layout: API keys plus, per device, the linked
// sensors and their calibration curves.
type seedFile struct {
	APIKeys map[string]string `yaml:"api_keys"`
	Devices []seedDevice      `yaml:"devices"`
}

type seedDevice struct {
	DeviceID string       `yaml:"device_id"`
	Sensors  []seedSensor `yaml:"sensors"`
}

type seedSensor struct {
	SensorID    int                       `yaml:"sensor_id"`
	TypeName    string                    `yaml:"type_name"`
	Calibration []domain.CalibrationPoint `yaml:"calibration"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	seedPath := seedGetEnv("SEED_FILE", "scripts/seed_calibration/calibration.yaml")
	seed, err := loadSeed(seedPath)
	if err != nil {
		log.Fatalf("Failed to load seed file %s: %v", seedPath, err)
	}
	fmt.Printf("Loaded seed file: %s (%d api keys, %d devices)\n",
		seedPath, len(seed.APIKeys), len(seed.Devices))

	client := redis.NewClient(&redis.Options{
		Addr:     seedGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: seedGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_api_keys(ctx, client, seed)
	step2_sensor_links(ctx, client, seed)
	step3_calibration_curves(ctx, client, seed)
	step4_verify(ctx, client, seed)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/fuel-analytics")
}

func loadSeed(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

func step1_api_keys(ctx context.Context, client *redis.Client, seed *seedFile) {
	fmt.Println("\n── Step 1: Seeding API keys ────────────────────")

	// Key pattern: device:auth:{api_key} → device_id
	// This is what the authenticator looks up on a cache miss
	// TTL = 0 means permanent — these never expire
	for apiKey, deviceID := range seed.APIKeys {
		key := "device:auth:" + apiKey
		if err := client.Set(ctx, key, deviceID, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, deviceID)
	}
}

func step2_sensor_links(ctx context.Context, client *redis.Client, seed *seedFile) {
	fmt.Println("\n── Step 2: Seeding sensor links ────────────────")

	// Key pattern: device:{device_id}:sensors → JSON [{sensor_id, type_name}]
	// This is the registry the engine resolves each reading against
	for _, dev := range seed.Devices {
		links := make([]domain.SensorLink, 0, len(dev.Sensors))
		for _, s := range dev.Sensors {
			links = append(links, domain.SensorLink{SensorID: s.SensorID, TypeName: s.TypeName})
		}
		payload, err := json.Marshal(links)
		if err != nil {
			log.Fatalf("Failed to marshal sensor links for %s: %v", dev.DeviceID, err)
		}
		key := fmt.Sprintf("device:%s:sensors", dev.DeviceID)
		if err := client.Set(ctx, key, payload, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %d sensor(s)\n", key, len(links))
	}
}

func step3_calibration_curves(ctx context.Context, client *redis.Client, seed *seedFile) {
	fmt.Println("\n── Step 3: Seeding calibration curves ──────────")

	// Key pattern: calibration:{device_id}:{sensor_id} → JSON breakpoint list
	// The store sorts on read, but seed them ordered anyway for inspection
	for _, dev := range seed.Devices {
		for _, s := range dev.Sensors {
			if len(s.Calibration) == 0 {
				fmt.Printf("  - %s sensor %d has no curve, skipping\n", dev.DeviceID, s.SensorID)
				continue
			}
			payload, err := json.Marshal(s.Calibration)
			if err != nil {
				log.Fatalf("Failed to marshal curve for %s/%d: %v", dev.DeviceID, s.SensorID, err)
			}
			key := fmt.Sprintf("calibration:%s:%d", dev.DeviceID, s.SensorID)
			if err := client.Set(ctx, key, payload, 0).Err(); err != nil {
				log.Fatalf("Failed to set key %s: %v", key, err)
			}
			fmt.Printf("  ✓ %-45s → %d breakpoints\n", key, len(s.Calibration))
		}
	}
}

func step4_verify(ctx context.Context, client *redis.Client, seed *seedFile) {
	fmt.Println("\n── Step 4: Verification ────────────────────────")

	authKeys, err := client.Keys(ctx, "device:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(authKeys))

	curveKeys, err := client.Keys(ctx, "calibration:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d calibration curves found in Redis\n", len(curveKeys))

	// Spot check: the first seeded curve must decode back into breakpoints
	if len(curveKeys) > 0 {
		val, err := client.Get(ctx, curveKeys[0]).Result()
		if err != nil {
			log.Fatalf("Spot check failed: %v", err)
		}
		var points []domain.CalibrationPoint
		if err := json.Unmarshal([]byte(val), &points); err != nil {
			log.Fatalf("Spot check decode failed for %s: %v", curveKeys[0], err)
		}
		fmt.Printf("  ✓ spot check: %s → %d breakpoints\n", curveKeys[0], len(points))
	}
}

func seedGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
