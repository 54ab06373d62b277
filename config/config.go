// Package config reads server and CLI settings from defaults, an optional
// TOML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `toml:"port"`
	WebOrigin   string `toml:"web_origin"`
	StoreDriver string `toml:"store_driver"` // postgres | memory

	DatabaseURL  string `toml:"database_url"`
	DatabaseHost string `toml:"db_host"`
	DatabasePort string `toml:"db_port"`
	DatabaseUser string `toml:"db_user"`
	DatabasePass string `toml:"db_pass"`
	DatabaseName string `toml:"db_name"`
	ConnectTries int    `toml:"connect_tries"`

	RedisAddr string `toml:"redis_addr"`
	RedisPwd  string `toml:"redis_password"`

	SessionTTL     time.Duration `toml:"-"`
	SessionTTLSecs int           `toml:"session_ttl_seconds"`
	SeenThrottle   time.Duration `toml:"-"`

	AdminEmails    []string `toml:"admin_emails"`
	BootstrapEmail string   `toml:"bootstrap_admin_email"`

	MetricsEnabled bool `toml:"metrics_enabled"`

	RPID           string        `toml:"rp_id"`
	RPOrigins      []string      `toml:"rp_origins"` // defaults to WebOrigin
	RPDisplayName  string        `toml:"rp_display_name"`
	InviteTTLHours int           `toml:"invite_ttl_hours"`
	CeremonyTTL    time.Duration `toml:"-"`

	ArchiveBucket string `toml:"archive_bucket"`
	ArchivePrefix string `toml:"archive_prefix"`
	AWSRegion     string `toml:"aws_region"`
}

// LoadEnv loads .env into the process environment. A missing file is fine.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}
}

func DefaultConfig() Config {
	return Config{
		Port:           "3001",
		WebOrigin:      "http://localhost:5173",
		StoreDriver:    "postgres",
		DatabaseHost:   "localhost",
		DatabasePort:   "5432",
		DatabaseUser:   "postgres",
		DatabasePass:   "postgres",
		DatabaseName:   "gear",
		ConnectTries:   10,
		RedisAddr:      "127.0.0.1:6379",
		SessionTTLSecs: 86400,
		SeenThrottle:   5 * time.Minute,
		MetricsEnabled: true,
		RPID:           "localhost",
		RPDisplayName:  "Gear Checkout",
		InviteTTLHours: 72,
		CeremonyTTL:    5 * time.Minute,
		ArchivePrefix:  "audit",
		AWSRegion:      "us-east-1",
	}
}

// Load applies the file named by GEAR_CONFIG, if any, then the environment.
func Load() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("GEAR_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.SessionTTL = time.Duration(cfg.SessionTTLSecs) * time.Second
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setStr(&c.Port, "PORT")
	setStr(&c.WebOrigin, "WEB_ORIGIN")
	setStr(&c.StoreDriver, "STORE_DRIVER")
	setStr(&c.DatabaseURL, "DATABASE_URL")
	setStr(&c.DatabaseHost, "DB_HOST")
	setStr(&c.DatabasePort, "DB_PORT")
	setStr(&c.DatabaseUser, "DB_USER")
	setStr(&c.DatabasePass, "DB_PASS")
	setStr(&c.DatabaseName, "DB_NAME")
	setStr(&c.RedisAddr, "REDIS_ADDR")
	setStr(&c.RedisPwd, "REDIS_PASSWORD")
	setStr(&c.BootstrapEmail, "BOOTSTRAP_ADMIN_EMAIL")
	setStr(&c.ArchiveBucket, "ARCHIVE_BUCKET")
	setStr(&c.ArchivePrefix, "ARCHIVE_PREFIX")
	setStr(&c.AWSRegion, "AWS_REGION")
	setStr(&c.RPID, "RP_ID")
	setStr(&c.RPDisplayName, "RP_DISPLAY_NAME")
	if v, ok := os.LookupEnv("RP_ORIGINS"); ok {
		c.RPOrigins = splitList(v)
	}
	if v := os.Getenv("INVITE_TTL_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INVITE_TTL_HOURS: %w", err)
		}
		c.InviteTTLHours = n
	}

	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL_SECONDS: %w", err)
		}
		c.SessionTTLSecs = n
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("METRICS_ENABLED: %w", err)
		}
		c.MetricsEnabled = b
	}
	if v, ok := os.LookupEnv("ADMIN_EMAILS"); ok {
		c.AdminEmails = splitList(v)
	} else {
		c.AdminEmails = splitList(strings.Join(c.AdminEmails, ","))
	}
	c.BootstrapEmail = strings.ToLower(strings.TrimSpace(c.BootstrapEmail))
	return nil
}

// DSN returns DATABASE_URL when set, otherwise a keyword DSN built from
// the DB_* settings.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUser, c.DatabasePass, c.DatabaseName,
	)
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	if c.SessionTTLSecs <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.InviteTTLHours <= 0 {
		return fmt.Errorf("INVITE_TTL_HOURS must be positive")
	}
	if c.RPID == "" {
		return fmt.Errorf("RP_ID is required")
	}
	return nil
}

// Origins are the origins passkey ceremonies may come from.
func (c Config) Origins() []string {
	if len(c.RPOrigins) > 0 {
		return c.RPOrigins
	}
	return []string{strings.TrimRight(c.WebOrigin, "/")}
}

func (c Config) InviteTTL() time.Duration { return time.Duration(c.InviteTTLHours) * time.Hour }

// IsAdminEmail reports whether email is listed in ADMIN_EMAILS.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}
