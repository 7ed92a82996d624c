// Package config loads bot settings from environment variables.
// envconfig maps the variables onto the struct fields below.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends accepted in STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds every application setting.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	AdminIDsRaw      string  `envconfig:"ADMIN_IDS" required:"true"`
	AdminIDs         []int64 `envconfig:"-"`
	// Username without @, used to build referral links.
	BotUsername string `envconfig:"BOT_USERNAME"`
	// Channels a user must join before using the bot (comma separated chat ids).
	JoinChannelsRaw string  `envconfig:"JOIN_CHANNELS"`
	JoinChannels    []int64 `envconfig:"-"`
	// Invite link shown next to the join prompt.
	JoinInviteURL string `envconfig:"JOIN_INVITE_URL"`
	// Support contact shown on the account page.
	SupportURL string `envconfig:"SUPPORT_URL"`

	// --- Store ---
	StoreBackend     string `envconfig:"STORE_BACKEND" default:"postgres"`
	StoreCASAttempts int    `envconfig:"STORE_CAS_ATTEMPTS" default:"5"`

	// --- Database ---
	// Inside docker the host is the compose service name; use DB_HOST=localhost locally.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"filegate"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Redis ---
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- MongoDB ---
	MongoURI        string `envconfig:"MONGO_URI" default:"mongodb://mongo:27017"`
	MongoDatabase   string `envconfig:"MONGO_DATABASE" default:"filegate"`
	MongoCollection string `envconfig:"MONGO_COLLECTION" default:"kv_entities"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"UTC"`

	// --- Bot runtime ---
	// How many updates are processed in parallel; unbounded goroutines leak under flood.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Long polling timeout (seconds)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- HTTP ---
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	// --- Admin ---
	// Optional. When set, admins must /login before using the panel.
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminSessionTTL   time.Duration `envconfig:"ADMIN_SESSION_TTL" default:"24h"`

	// --- Economy ---
	CurrencyName       string `envconfig:"CURRENCY_NAME" default:"🪙"`
	ReferralReward     int64  `envconfig:"REFERRAL_REWARD" default:"1"`
	ReferralAutoCredit bool   `envconfig:"REFERRAL_AUTO_CREDIT" default:"false"`
	// Coin packages offered in the purchase flow.
	PurchasePlansRaw string  `envconfig:"PURCHASE_PLANS" default:"10,50,100"`
	PurchasePlans    []int64 `envconfig:"-"`

	// --- Timeouts ---
	SpendTTL        time.Duration `envconfig:"SPEND_TTL" default:"10m"`
	ConversationTTL time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`

	// --- Membership cache ---
	MembershipCacheTTL  time.Duration `envconfig:"MEMBERSHIP_CACHE_TTL" default:"5m"`
	MembershipCacheSize int           `envconfig:"MEMBERSHIP_CACHE_SIZE" default:"10000"`

	// --- Notifier ---
	NotifyQueueSize int `envconfig:"NOTIFY_QUEUE_SIZE" default:"1024"`
	NotifyWorkers   int `envconfig:"NOTIFY_WORKERS" default:"4"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsAdmin reports whether userID is listed in ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if len(c.AdminIDs) == 0 {
		return fmt.Errorf("ADMIN_IDS must contain at least one id")
	}
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres backend")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case BackendRedis, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreCASAttempts <= 0 {
		return fmt.Errorf("STORE_CAS_ATTEMPTS must be > 0")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT must be > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS must be > 0")
	}
	if c.ReferralReward <= 0 {
		return fmt.Errorf("REFERRAL_REWARD must be > 0")
	}
	for _, p := range c.PurchasePlans {
		if p <= 0 {
			return fmt.Errorf("PURCHASE_PLANS must contain positive amounts")
		}
	}
	if c.SpendTTL <= 0 || c.ConversationTTL <= 0 {
		return fmt.Errorf("SPEND_TTL and CONVERSATION_TTL must be > 0")
	}
	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// Load reads the environment and fills Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var err error
	if cfg.AdminIDs, err = parseInt64CSV(cfg.AdminIDsRaw); err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	if cfg.JoinChannels, err = parseInt64CSV(cfg.JoinChannelsRaw); err != nil {
		return nil, fmt.Errorf("JOIN_CHANNELS parse: %w", err)
	}
	if cfg.PurchasePlans, err = parseInt64CSV(cfg.PurchasePlansRaw); err != nil {
		return nil, fmt.Errorf("PURCHASE_PLANS parse: %w", err)
	}
	cfg.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
