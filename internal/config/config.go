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
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Operator  OperatorConfig
	Media     MediaConfig
	TTS       TTSConfig
	Telephony TelephonyConfig
	Worker    WorkerConfig
	Phone     PhoneConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is optional outside production: an empty Host selects the in-memory store.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional; an empty Host disables the cross-process session guard.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// OperatorConfig is the single console account allowed to obtain tokens.
// PasswordHash is a bcrypt hash.
type OperatorConfig struct {
	Username     string
	PasswordHash string
}

type MediaConfig struct {
	Root string
}

type TTSConfig struct {
	Engine      string
	EspeakBin   string
	PollyRegion string
}

type TelephonyConfig struct {
	Channel          string
	Context          string
	Priority         int
	OriginateTimeout time.Duration
	DialTimeout      time.Duration
	ARIApplication   string
}

type WorkerConfig struct {
	OriginateRPS float64
	SessionTTL   time.Duration
}

type PhoneConfig struct {
	DefaultRegion string
}

const (
	TTSEngineEspeak = "espeak"
	TTSEnginePolly  = "polly"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = parseInto(&parseErrs, mustInt, "APP_PORT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		c.DB.Port = parseInto(&parseErrs, mustInt, "DB_PORT")
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		c.Redis.Port = parseInto(&parseErrs, mustInt, "REDIS_PORT")
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = parseInto(&parseErrs, optionalDuration, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = parseInto(&parseErrs, optionalDuration, "JWT_REFRESH_TTL")

	c.Operator.Username = strings.TrimSpace(os.Getenv("OPERATOR_USERNAME"))
	c.Operator.PasswordHash = strings.TrimSpace(os.Getenv("OPERATOR_PASSWORD_HASH"))

	c.Media.Root = strings.TrimSpace(os.Getenv("MEDIA_ROOT"))

	c.TTS.Engine = strings.ToLower(strings.TrimSpace(os.Getenv("TTS_ENGINE")))
	c.TTS.EspeakBin = strings.TrimSpace(os.Getenv("TTS_ESPEAK_BIN"))
	c.TTS.PollyRegion = strings.TrimSpace(os.Getenv("TTS_POLLY_REGION"))

	c.Telephony.Channel = strings.TrimSpace(os.Getenv("TELEPHONY_CHANNEL"))
	c.Telephony.Context = strings.TrimSpace(os.Getenv("TELEPHONY_CONTEXT"))
	c.Telephony.Priority = parseInto(&parseErrs, optionalInt, "TELEPHONY_PRIORITY")
	c.Telephony.OriginateTimeout = parseInto(&parseErrs, optionalDuration, "TELEPHONY_ORIGINATE_TIMEOUT")
	c.Telephony.DialTimeout = parseInto(&parseErrs, optionalDuration, "TELEPHONY_DIAL_TIMEOUT")
	c.Telephony.ARIApplication = strings.TrimSpace(os.Getenv("TELEPHONY_ARI_APPLICATION"))

	c.Worker.OriginateRPS = parseInto(&parseErrs, optionalFloat, "WORKER_ORIGINATE_RPS")
	c.Worker.SessionTTL = parseInto(&parseErrs, optionalDuration, "WORKER_SESSION_TTL")

	c.Phone.DefaultRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_DEFAULT_REGION")))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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

	errs = append(errs, c.validateDB()...)

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if (c.Operator.Username == "") != (c.Operator.PasswordHash == "") {
		errs = append(errs, errors.New("OPERATOR_USERNAME and OPERATOR_PASSWORD_HASH must be set together"))
	}

	if c.Media.Root == "" {
		c.Media.Root = "media"
	}

	switch c.TTS.Engine {
	case "":
		c.TTS.Engine = TTSEngineEspeak
	case TTSEngineEspeak, TTSEnginePolly:
	default:
		errs = append(errs, fmt.Errorf("TTS_ENGINE must be one of espeak, polly, got %q", c.TTS.Engine))
	}
	if c.TTS.EspeakBin == "" {
		c.TTS.EspeakBin = "espeak-ng"
	}
	if c.TTS.Engine == TTSEnginePolly && c.TTS.PollyRegion == "" {
		errs = append(errs, errors.New("TTS_POLLY_REGION is required when TTS_ENGINE=polly"))
	}

	if c.Telephony.Channel == "" {
		c.Telephony.Channel = "SIP/1011"
	}
	if c.Telephony.Context == "" {
		c.Telephony.Context = "from-internal"
	}
	if c.Telephony.Priority == 0 {
		c.Telephony.Priority = 1
	} else if c.Telephony.Priority < 0 {
		errs = append(errs, fmt.Errorf("TELEPHONY_PRIORITY must be positive, got %d", c.Telephony.Priority))
	}
	if c.Telephony.OriginateTimeout <= 0 {
		c.Telephony.OriginateTimeout = 30 * time.Second
	}
	if c.Telephony.DialTimeout <= 0 {
		c.Telephony.DialTimeout = 10 * time.Second
	}
	if c.Telephony.ARIApplication == "" {
		c.Telephony.ARIApplication = "ai-call-center"
	}

	if c.Worker.OriginateRPS < 0 {
		errs = append(errs, fmt.Errorf("WORKER_ORIGINATE_RPS must not be negative, got %v", c.Worker.OriginateRPS))
	}
	if c.Worker.SessionTTL <= 0 {
		// Must outlive one full attempt: dial plus origination.
		c.Worker.SessionTTL = c.Telephony.DialTimeout + c.Telephony.OriginateTimeout + 30*time.Second
	}

	if c.Phone.DefaultRegion == "" {
		c.Phone.DefaultRegion = "US"
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		if c.IsProduction() || c.App.Env == "staging" {
			errs = append(errs, errors.New("DB_HOST is required outside local and dev"))
		}
		return errs
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

func (c Config) UsesPostgres() bool { return c.DB.Host != "" }

func (c Config) UsesRedis() bool { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PostgresURL is accepted by both pgx stdlib and golang-migrate (after a scheme swap).
// Avoid logging this string; it contains secrets.
func (c Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: url.Values{"sslmode": []string{c.DB.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func optionalFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s, got %q", key, v)
	}
	return d, nil
}

func parseInto[T any](errs *[]error, parse func(string) (T, error), key string) T {
	v, err := parse(key)
	if err != nil {
		*errs = append(*errs, err)
	}
	return v
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
