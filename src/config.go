package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Environment-sourced configuration with CLI overrides
 *		(C13, §6.1).
 *
 * Description:	Modeled on the teacher's appserver.go, which resolves
 *		its own AppServerMain settings from a mix of defaults
 *		and pflag overrides.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in §6.1, plus the additions this
// Go rendition needs for observability and localization.
type Config struct {
	SerialPort  string
	DataDir     string
	DryRun      bool
	LogLevel    string
	TZ          string

	DailyBroadcastEnabled bool
	PosGood               time.Duration
	PosMax                time.Duration
	OSMRateLimit          time.Duration
	WorkerInterval        time.Duration

	MetricsAddr   string
	TemplatesPath string
	DefaultLocale string

	OSMEndpoint string
	SerialBaud  int
}

// LoadConfig resolves Config from the process environment, applying the
// defaults of §6.1 where a variable is unset.
func LoadConfig() (Config, error) {
	cfg := Config{
		SerialPort:            getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		DataDir:                getEnv("DATA_DIR", "/var/lib/meshgate"),
		DryRun:                 getEnvBool("DRY_RUN", false),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		TZ:                     getEnv("TZ", "UTC"),
		DailyBroadcastEnabled:  getEnvBool("DAILY_BROADCAST_ENABLED", true),
		PosGood:                getEnvSeconds("POS_GOOD", DefaultPosGood),
		PosMax:                 getEnvSeconds("POS_MAX", DefaultPosMax),
		OSMRateLimit:           getEnvSeconds("OSM_RATE_LIMIT_SECONDS", 3*time.Second),
		WorkerInterval:         getEnvSeconds("WORKER_INTERVAL", DefaultWorkerInterval),
		MetricsAddr:            getEnv("METRICS_ADDR", ":9190"),
		TemplatesPath:          getEnv("TEMPLATES_PATH", ""),
		DefaultLocale:          getEnv("DEFAULT_LOCALE", "en"),
		OSMEndpoint:            getEnv("OSM_ENDPOINT", "https://api.openstreetmap.org/api/0.6/notes.json"),
		SerialBaud:             getEnvInt("SERIAL_BAUD", 9600),
	}

	// An explicitly empty METRICS_ADDR disables the metrics endpoint.
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	if cfg.TemplatesPath == "" {
		cfg.TemplatesPath = cfg.DataDir + "/templates.yaml"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate enforces the cross-field invariants of §6.1/§4.5.
func (c Config) Validate() error {
	if c.PosGood >= c.PosMax {
		return fmt.Errorf("config: POS_GOOD (%s) must be less than POS_MAX (%s)", c.PosGood, c.PosMax)
	}

	if c.OSMRateLimit <= 0 {
		return fmt.Errorf("config: OSM_RATE_LIMIT_SECONDS must be positive, got %s", c.OSMRateLimit)
	}

	if c.WorkerInterval <= 0 {
		return fmt.Errorf("config: WORKER_INTERVAL must be positive, got %s", c.WorkerInterval)
	}

	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}

	return def
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}

	return parsed
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return parsed
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}

	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}

	return time.Duration(parsed) * time.Second
}
