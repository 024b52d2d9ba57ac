// Package config resolves service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	RedisAddr      string
	StoreNamespace string
	StoreOpTimeout time.Duration

	ProjectName string

	HitTestRes    int
	GeomCacheSize int
}

func FromEnv() Config {
	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		StoreNamespace: getenv("STORE_NAMESPACE", "aoi"),
		StoreOpTimeout: getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),
		ProjectName:    getenv("PROJECT_NAME", "Untitled Project"),
		HitTestRes:     getint("HIT_TEST_H3_RES", 7),
		GeomCacheSize:  getint("GEOM_CACHE_SIZE", 1024),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
