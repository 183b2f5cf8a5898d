package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Port       string
	DBDSN      string
	RedisAddr  string
	RMQURL     string
	Queue      string
	GatewayURL string
}

type DispatcherConfig struct {
	DBDSN      string
	RedisAddr  string
	RMQURL     string
	Queue      string
	GatewayURL string

	// BatchSize is how many pending delivery records one dispatch
	// invocation processes before re-enqueueing itself.
	BatchSize int
	// MaxConcurrent caps simultaneously active campaign batches.
	MaxConcurrent int
	// SweepEvery is the cron interval for starting due scheduled
	// campaigns and re-enqueueing idle running ones.
	SweepEvery time.Duration
	// SendTimeout bounds one gateway send attempt.
	SendTimeout time.Duration
}

var (
	API        APIConfig
	Dispatcher DispatcherConfig
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("env %s: %v", k, err)
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("env %s: %v", k, err)
	}
	return d
}

// loadDotEnv picks up a local .env in dev; missing file is fine.
func loadDotEnv() {
	_ = godotenv.Load()
}

func MustLoadAPI() {
	loadDotEnv()
	API = APIConfig{
		Port:       getenv("PORT", "8080"),
		DBDSN:      mustEnv("DB_DSN"),
		RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
		RMQURL:     mustEnv("RMQ_URL"),
		Queue:      getenv("QUEUE", "dispatch_jobs"),
		GatewayURL: getenv("GATEWAY_URL", ""),
	}
}

func MustLoadDispatcher() {
	loadDotEnv()
	Dispatcher = DispatcherConfig{
		DBDSN:         mustEnv("DB_DSN"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RMQURL:        mustEnv("RMQ_URL"),
		Queue:         getenv("QUEUE", "dispatch_jobs"),
		GatewayURL:    mustEnv("GATEWAY_URL"),
		BatchSize:     getenvInt("BATCH_SIZE", 50),
		MaxConcurrent: getenvInt("MAX_CONCURRENT", 4),
		SweepEvery:    getenvDuration("SWEEP_EVERY", time.Minute),
		SendTimeout:   getenvDuration("SEND_TIMEOUT", 15*time.Second),
	}
}
