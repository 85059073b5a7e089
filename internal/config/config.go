package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
type Config struct {
	App    AppConfig
	Leads  LeadsConfig
	DB     DBConfig
	Redis  RedisConfig
	Calls  CallsConfig
	Auth   AuthConfig
	OpenAI OpenAIConfig
	Twilio TwilioConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicURL is the externally reachable base URL, e.g. an ngrok tunnel.
	PublicURL string
}

const (
	LeadsStoreJSONL    = "jsonl"
	LeadsStorePostgres = "postgres"
)

type LeadsConfig struct {
	Store string
	File  string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. With a host set, the call cap is shared through Redis.
type RedisConfig struct {
	Host string
	Port int
}

type CallsConfig struct {
	MaxConcurrent int
	// SlotTTL bounds how long a leaked Redis call slot survives a crash.
	SlotTTL time.Duration
}

type AuthConfig struct {
	// JWTSecret is optional outside production; without it the operator API is open.
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type OpenAIConfig struct {
	APIKey      string
	RealtimeURL string
	Model       string
	Voice       string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_URL")), "/")

	c.Leads.Store = strings.ToLower(strings.TrimSpace(os.Getenv("LEADS_STORE")))
	c.Leads.File = strings.TrimSpace(os.Getenv("LEADS_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	{
		n, err := optionalInt("MAX_CONCURRENT_CALLS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.MaxConcurrent = n
	}
	c.Calls.SlotTTL = mustDuration("CALL_SLOT_TTL")

	c.Auth = loadAuth()

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.RealtimeURL = strings.TrimSpace(os.Getenv("OPENAI_REALTIME_URL"))
	c.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_REALTIME_MODEL"))
	c.OpenAI.Voice = strings.TrimSpace(os.Getenv("OPENAI_VOICE"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills in defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicURL != "" {
		if u, err := url.Parse(c.App.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_URL must be an absolute URL, got %q", c.App.PublicURL))
		}
	}

	if c.Leads.Store == "" {
		c.Leads.Store = LeadsStoreJSONL
	}
	switch c.Leads.Store {
	case LeadsStoreJSONL:
		if c.Leads.File == "" {
			c.Leads.File = "leads.jsonl"
		}
	case LeadsStorePostgres:
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("LEADS_STORE must be one of jsonl, postgres, got %q", c.Leads.Store))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Calls.MaxConcurrent == 0 {
		c.Calls.MaxConcurrent = 10
	}
	if c.Calls.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_CALLS must be positive, got %d", c.Calls.MaxConcurrent))
	}
	if c.Calls.SlotTTL <= 0 {
		c.Calls.SlotTTL = 2 * time.Hour
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.RealtimeURL != "" {
		if u, err := url.Parse(c.OpenAI.RealtimeURL); err != nil || (u.Scheme != "wss" && u.Scheme != "ws") {
			errs = append(errs, fmt.Errorf("OPENAI_REALTIME_URL must be a ws or wss URL, got %q", c.OpenAI.RealtimeURL))
		}
	}

	if c.Auth.JWTSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.Auth.JWTSecret != "" && c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}

	if c.Twilio.AccountSID != "" || c.Twilio.AuthToken != "" || c.Twilio.PhoneNumber != "" {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.PhoneNumber == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER must be set together"))
		}
		if c.App.PublicURL == "" {
			errs = append(errs, errors.New("PUBLIC_URL is required for outbound calls"))
		}
	}

	return joinErrors(errs)
}

// LoadAuth reads only the token settings. It is used by tools that mint tokens
// without running the API.
func LoadAuth() (AuthConfig, error) {
	a := loadAuth()
	if a.JWTSecret == "" {
		return AuthConfig{}, errors.New("JWT_SECRET is required")
	}
	if a.AccessTokenTTL <= 0 {
		a.AccessTokenTTL = 12 * time.Hour
	}
	return a, nil
}

func loadAuth() AuthConfig {
	return AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		// Optional; defaults applied in Validate().
		AccessTokenTTL: mustDuration("JWT_ACCESS_TTL"),
	}
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr is empty when Redis is not configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// OutboundEnabled reports whether Twilio credentials for placing calls are present.
func (c Config) OutboundEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.PhoneNumber != ""
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
