package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Hook operating modes. In ModeLog the sender never touches the network and
// treats every delivery as a logical success.
const (
	HookModeLive = "live"
	HookModeLog  = "log"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151, used for queue depth stats
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	TopicPrefix    string // lane topics are <prefix>.<queue>, e.g. jobs.high
	WorkerChannel  string // NSQ channel name for workers
}

type Hook struct {
	URL             string        // automation endpoint; empty means soft-skip sends
	Secret          string        // HMAC secret; empty means unsigned delivery
	Mode            string        // live or log
	SignatureHeader string        // e.g. X-Hook-Signature
	Timeout         time.Duration // per-POST deadline
	MaxAttempts     int           // delivery record attempt ceiling
	SweepBatchSize  int           // max records resubmitted per retry sweep
}

type Access struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Features struct {
	Messaging bool // gates every SMS-producing handler
	GroupSync bool // gates access-control group reconciliation
}

type Worker struct {
	ConcurrencyHigh    int             // handlers per lane
	ConcurrencyDefault int
	ConcurrencyLow     int
	MaxRetries         int             // default queue-level retry budget
	BackoffSchedule    []time.Duration // requeue backoff durations
	JitterPercent      float64         // backoff jitter percentage (0.0-1.0)
	HTTPPort           string          // worker health/metrics port
}

type FakeHook struct {
	FailFirstN    int           // number of requests to fail initially
	Secret        string        // secret for signature verification
	ResponseDelay time.Duration // simulated response delay
	Port          string        // server listen port
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

type Config struct {
	AppName  string
	AppEnv   string // development or production
	DB       DB
	NSQ      NSQ
	Hook     Hook
	Access   Access
	Features Features
	Worker   Worker
	FakeHook FakeHook
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseBackoffSchedule(schedule string) []time.Duration {
	defaults := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute, 4 * time.Minute, 10 * time.Minute}
	if schedule == "" {
		return defaults
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}
	if len(durations) == 0 {
		return defaults
	}
	return durations
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "arcadecrm"),
		AppEnv:  getenv("APP_ENV", "development"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "arcadecrm"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			TopicPrefix:    getenv("NSQ_TOPIC_PREFIX", "jobs"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Hook: Hook{
			URL:             getenv("HOOK_URL", ""),
			Secret:          getenv("HOOK_SECRET", ""),
			Mode:            getenv("HOOK_MODE", HookModeLog),
			SignatureHeader: getenv("HOOK_SIGNATURE_HEADER", "X-Hook-Signature"),
			Timeout:         getenvDuration("HOOK_TIMEOUT", 30*time.Second),
			MaxAttempts:     getenvInt("HOOK_MAX_ATTEMPTS", 3),
			SweepBatchSize:  getenvInt("HOOK_SWEEP_BATCH_SIZE", 50),
		},
		Access: Access{
			BaseURL: getenv("ACCESS_BASE_URL", "https://api.ggleap.com"),
			APIKey:  getenv("ACCESS_API_KEY", ""),
			Timeout: getenvDuration("ACCESS_TIMEOUT", 30*time.Second),
		},
		Features: Features{
			Messaging: getenvBool("FEATURE_MESSAGING", true),
			GroupSync: getenvBool("FEATURE_GROUP_SYNC", false),
		},
		Worker: Worker{
			ConcurrencyHigh:    getenvInt("WORKER_CONCURRENCY_HIGH", 4),
			ConcurrencyDefault: getenvInt("WORKER_CONCURRENCY_DEFAULT", 4),
			ConcurrencyLow:     getenvInt("WORKER_CONCURRENCY_LOW", 2),
			MaxRetries:         getenvInt("WORKER_MAX_RETRIES", 3),
			BackoffSchedule:    parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:      getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			HTTPPort:           ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		FakeHook: FakeHook{
			FailFirstN:    getenvInt("FAIL_FIRST_N", 0),
			Secret:        getenv("FAKE_HOOK_SECRET", ""),
			ResponseDelay: getenvDuration("FAKE_HOOK_RESPONSE_DELAY", 0),
			Port:          getenv("FAKE_HOOK_PORT", ":8081"),
			ReadTimeout:   getenvDuration("FAKE_HOOK_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getenvDuration("FAKE_HOOK_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:   getenvDuration("FAKE_HOOK_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// DSN builds the Postgres connection string from the DB section.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// LogOnly reports whether the hook sender should bypass network I/O.
func (h Hook) LogOnly() bool {
	return h.Mode != HookModeLive
}

// Topic returns the NSQ topic for a priority lane.
func (n NSQ) Topic(queue string) string {
	return n.TopicPrefix + "." + queue
}
