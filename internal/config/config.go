package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTT ingest (disabled when the broker address is empty)
	MQTTBrokerAddr string
	MQTTTopic      string
	MQTTClientID   string

	// Kafka activity export (disabled when no brokers are configured)
	KafkaBrokers []string
	KafkaTopic   string

	// Fuel pipeline tuning
	MessageFrequencySeconds int
	HoursOfDataToLoad       int
	MinValuesForAverage     int
	MaxValuesForAlerts      int
	LookAroundSeconds       int
	LookBackSeconds         int
	DigitalThresholdLitres  float64
	AnalogThresholdLitres   float64
	FuelErrorThreshold      float64

	// Pipeline channels and workers
	IngestQueueSize   int
	ProcessorWorkers  int
	DBChannelSize     int
	DBBatchSize       int
	DBFlushIntervalMS int
	ActivityQueueSize int

	// Cache TTLs
	RegistryCacheTTLSeconds int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

func Load() *Config {
	return &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8002"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "fleet_user"),
		DBPassword:     getEnv("DB_PASSWORD", "fleet_password"),
		DBName:         getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:     int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		MQTTBrokerAddr: getEnv("MQTT_BROKER_ADDR", ""),
		MQTTTopic:      getEnv("MQTT_TOPIC", "fleet/+/fuel"),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "fuel-analytics"),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "fuel-activities"),

		MessageFrequencySeconds: getEnvInt("MESSAGE_FREQUENCY_SECONDS", 60),
		HoursOfDataToLoad:       getEnvInt("HOURS_OF_DATA_TO_LOAD", 24),
		MinValuesForAverage:     getEnvInt("MIN_VALUES_FOR_AVERAGE", 6),
		MaxValuesForAlerts:      getEnvInt("MAX_VALUES_FOR_ALERTS", 5),
		LookAroundSeconds:       getEnvInt("LOOK_AROUND_SECONDS", 120),
		LookBackSeconds:         getEnvInt("LOOK_BACK_SECONDS", 600),
		DigitalThresholdLitres:  getEnvFloat("DIGITAL_THRESHOLD_LITRES", 5),
		AnalogThresholdLitres:   getEnvFloat("ANALOG_THRESHOLD_LITRES", 10),
		FuelErrorThreshold:      getEnvFloat("FUEL_ERROR_THRESHOLD", 0.5),

		IngestQueueSize:   getEnvInt("INGEST_QUEUE_SIZE", 10000),
		ProcessorWorkers:  getEnvInt("PROCESSOR_WORKERS", 8),
		DBChannelSize:     getEnvInt("DB_CHANNEL_SIZE", 10000),
		DBBatchSize:       getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS: getEnvInt("DB_FLUSH_INTERVAL_MS", 100),
		ActivityQueueSize: getEnvInt("ACTIVITY_QUEUE_SIZE", 1024),

		RegistryCacheTTLSeconds: getEnvInt("REGISTRY_CACHE_TTL_SECONDS", 60),

		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        splitList(getEnv("VALID_API_KEYS", "")),
	}
}

// Validate rejects tunings the detector cannot work with.
func (c *Config) Validate() error {
	if c.MessageFrequencySeconds <= 0 {
		return fmt.Errorf("MESSAGE_FREQUENCY_SECONDS must be positive, got %d", c.MessageFrequencySeconds)
	}
	if c.HoursOfDataToLoad < 0 {
		return fmt.Errorf("HOURS_OF_DATA_TO_LOAD must not be negative, got %d", c.HoursOfDataToLoad)
	}
	if c.MinValuesForAverage < 0 {
		return fmt.Errorf("MIN_VALUES_FOR_AVERAGE must not be negative, got %d", c.MinValuesForAverage)
	}
	if c.MaxValuesForAlerts < 3 {
		return fmt.Errorf("MAX_VALUES_FOR_ALERTS must be at least 3, got %d", c.MaxValuesForAlerts)
	}
	if c.FuelErrorThreshold < 0 {
		return fmt.Errorf("FUEL_ERROR_THRESHOLD must not be negative, got %v", c.FuelErrorThreshold)
	}
	if c.ProcessorWorkers < 1 {
		return fmt.Errorf("PROCESSOR_WORKERS must be at least 1, got %d", c.ProcessorWorkers)
	}
	return nil
}

// WindowCap derives the per-sensor window bound from the expected reporting
// rate and the warm-start horizon, never below the detection sample size.
func (c *Config) WindowCap() int {
	cap := (3600 * c.HoursOfDataToLoad) / c.MessageFrequencySeconds
	if cap < c.MaxValuesForAlerts {
		cap = c.MaxValuesForAlerts
	}
	return cap
}

func (c *Config) WarmStartWindow() time.Duration {
	return time.Duration(c.HoursOfDataToLoad) * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
