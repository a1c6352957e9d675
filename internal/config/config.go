// Package config centralizes runtime configuration for hoodhub. Values are
// layered: built-in defaults, then an optional JSON file (CONFIG_FILE or
// --config), then a .env file in the working directory, then the process
// environment. Secrets (PRIVATE_KEY, HOODHUB_API_KEY) are only ever read
// from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"hoodhub.chat/hub/internal/ledger"
)

// Duration is a time.Duration that reads "5s"-style strings from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds configurable options for the hoodhub client.
type Config struct {
	RPCURL         string         `json:"rpc_url"`
	LedgerAddress  ledger.Address `json:"ledger_address"`
	ChainID        int64          `json:"chain_id"`
	KeyFile        string         `json:"key_file"`
	Port           int            `json:"port"`
	PollInterval   Duration       `json:"poll_interval"`
	TypingTTL      Duration       `json:"typing_ttl"`
	ConfirmTimeout Duration       `json:"confirm_timeout"`
	LookupTimeout  Duration       `json:"lookup_timeout"`
	DevnetDB       string         `json:"devnet_db"`
	DevnetBlock    Duration       `json:"devnet_block_interval"`
	LogLevel       string         `json:"log_level"`

	PrivateKey string `json:"-"`
	APIKey     string `json:"-"`
}

// Validation errors.
var (
	ErrMissingEndpoint = errors.New("config: rpc_url is required")
	ErrInvalidEndpoint = errors.New("config: rpc_url must be an http(s) URL")
	ErrInvalidLedger   = errors.New("config: ledger_address must be a 0x-prefixed 20-byte hex address")
)

var cfg *Config

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		RPCURL:         ledger.DefaultRPCAddr,
		ChainID:        46630,
		KeyFile:        "hoodhub_key.pem",
		Port:           8080,
		PollInterval:   Duration(5 * time.Second),
		TypingTTL:      Duration(1500 * time.Millisecond),
		ConfirmTimeout: Duration(2 * time.Minute),
		LookupTimeout:  Duration(10 * time.Second),
		DevnetDB:       "hoodhub_devnet.db",
		LogLevel:       "info",
	}
}

// LoadConfig reads a JSON file at path and merges it over the defaults. A
// missing or unparsable file leaves the defaults in place so the client
// runs in development with minimal friction.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	if path == "" {
		cfg = def
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Warn("config file unreadable, using defaults")
		cfg = def
		return cfg, nil
	}

	c := *def
	if err := json.Unmarshal(b, &c); err != nil {
		logrus.WithError(err).WithField("path", path).Warn("config file invalid, using defaults")
		cfg = def
		return cfg, nil
	}

	// merge defaults for any zero-value fields
	if c.RPCURL == "" {
		c.RPCURL = def.RPCURL
	}
	if c.ChainID == 0 {
		c.ChainID = def.ChainID
	}
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = def.TypingTTL
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = def.ConfirmTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = def.LookupTimeout
	}
	if c.DevnetDB == "" {
		c.DevnetDB = def.DevnetDB
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	cfg = &c
	return cfg, nil
}

// Load builds the full configuration: defaults, the JSON file at path (or
// CONFIG_FILE when path is empty), .env, then the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("could not read .env")
	}
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	c, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	applyEnv(c, os.LookupEnv)
	cfg = c
	return c, nil
}

func applyEnv(c *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logrus.WithField(key, v).Warn("invalid duration, keeping current value")
			return
		}
		*dst = Duration(d)
	}

	str("HOODHUB_RPC_URL", &c.RPCURL)
	var addr string
	str("HOODHUB_LEDGER_ADDRESS", &addr)
	if addr != "" {
		c.LedgerAddress = ledger.Address(addr)
	}
	if v, ok := lookup("HOODHUB_CHAIN_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			logrus.WithField("HOODHUB_CHAIN_ID", v).Warn("invalid chain id, keeping current value")
		} else {
			c.ChainID = id
		}
	}
	str("HOODHUB_KEY_FILE", &c.KeyFile)
	str("PRIVATE_KEY", &c.PrivateKey)
	str("HOODHUB_API_KEY", &c.APIKey)
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			logrus.WithField("PORT", v).Warnf("invalid PORT value, using %d", c.Port)
		} else {
			c.Port = port
		}
	}
	dur("HOODHUB_POLL_INTERVAL", &c.PollInterval)
	dur("HOODHUB_TYPING_TTL", &c.TypingTTL)
	dur("HOODHUB_CONFIRM_TIMEOUT", &c.ConfirmTimeout)
	dur("HOODHUB_LOOKUP_TIMEOUT", &c.LookupTimeout)
	str("HOODHUB_DEVNET_DB", &c.DevnetDB)
	dur("HOODHUB_DEVNET_BLOCK_INTERVAL", &c.DevnetBlock)
	str("HOODHUB_LOG_LEVEL", &c.LogLevel)
}

// Validate checks what must be known before polling can start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(c.RPCURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, c.RPCURL)
	}
	if !c.LedgerAddress.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLedger, c.LedgerAddress)
	}
	return nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.PrivateKey = mask(c.PrivateKey)
	out.APIKey = mask(c.APIKey)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Get returns the loaded configuration. If nothing has been loaded yet, it
// returns defaults.
func Get() *Config {
	if cfg == nil {
		LoadConfig("")
	}
	return cfg
}
