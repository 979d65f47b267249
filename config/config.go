package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env   string
	Port  string
	DBURL string

	Password PasswordPolicy
	Lockout  LockoutPolicy
	Session  SessionPolicy
	Mfa      MfaPolicy
	Token    TokenPolicy
	Anomaly  AnomalyPolicy

	// BcryptCost is shared by real and dummy hash computations so both take
	// the same time.
	BcryptCost int
	// HashWorkers bounds concurrent bcrypt operations (see service.Hasher).
	HashWorkers int
}

type PasswordPolicy struct {
	MinLength      int
	MinUniqueChars int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	HistorySize    int
}

type LockoutPolicy struct {
	AccountThreshold  int
	AccountWindow     time.Duration
	AccountBaseLock   time.Duration
	IPThreshold       int
	IPWindow          time.Duration
	IPBaseLock        time.Duration
	Multiplier        float64
	MaxLock           time.Duration
	RapidRepeatWindow time.Duration
}

type SessionPolicy struct {
	AbsoluteLifetime      time.Duration
	IdleTimeout           time.Duration
	RotationInterval      time.Duration
	MaxConcurrentSessions int
}

type MfaPolicy struct {
	Issuer          string
	BackupCodeCount int
	DriftSteps      int
	RegenerateAt    int
}

type TokenPolicy struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	MaxActive     int
}

type AnomalyPolicy struct {
	GeoThresholdKm    float64
	ScoreThreshold    int
	RateWindow        time.Duration
	RateThreshold     int
	GatewayRatePerSec float64
	GatewayRateBurst  int
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:   getEnv("ENV", "development"),
		Port:  getEnv("PORT", "8080"),
		DBURL: getEnv("DB_URL", ""),
		Password: PasswordPolicy{
			MinLength:      getEnvAsInt("PASSWORD_MIN_LENGTH", 12),
			MinUniqueChars: getEnvAsInt("PASSWORD_MIN_UNIQUE", 6),
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSymbol:  true,
			HistorySize:    getEnvAsInt("PASSWORD_HISTORY_SIZE", 5),
		},
		Lockout: LockoutPolicy{
			AccountThreshold:  getEnvAsInt("LOCKOUT_ACCOUNT_THRESHOLD", 5),
			AccountWindow:     24 * time.Hour,
			AccountBaseLock:   getEnvAsDuration("LOCKOUT_ACCOUNT_BASE", 15*time.Minute),
			IPThreshold:       getEnvAsInt("LOCKOUT_IP_THRESHOLD", 10),
			IPWindow:          time.Hour,
			IPBaseLock:        getEnvAsDuration("LOCKOUT_IP_BASE", 5*time.Minute),
			Multiplier:        2,
			MaxLock:           getEnvAsDuration("LOCKOUT_MAX", 24*time.Hour),
			RapidRepeatWindow: time.Hour,
		},
		Session: SessionPolicy{
			AbsoluteLifetime:      getEnvAsDuration("SESSION_LIFETIME", 12*time.Hour),
			IdleTimeout:           getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			RotationInterval:      getEnvAsDuration("SESSION_ROTATION_INTERVAL", 15*time.Minute),
			MaxConcurrentSessions: getEnvAsInt("SESSION_MAX_CONCURRENT", 3),
		},
		Mfa: MfaPolicy{
			Issuer:          getEnv("MFA_ISSUER", "Warden"),
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODES", 10),
			DriftSteps:      2,
			RegenerateAt:    2,
		},
		Token: TokenPolicy{
			AccessSecret:  mustGetEnv("ACCESS_TOKEN_SECRET"),
			RefreshSecret: mustGetEnv("REFRESH_TOKEN_SECRET"),
			AccessExpiry:  time.Duration(getEnvAsInt("ACCESS_TOKEN_EXPIRY", 15)) * time.Minute,
			RefreshExpiry: time.Duration(getEnvAsInt("REFRESH_TOKEN_EXPIRY", 10080)) * time.Minute,
			MaxActive:     getEnvAsInt("MAX_ACTIVE_REFRESH_TOKENS", 5),
		},
		Anomaly: AnomalyPolicy{
			GeoThresholdKm:    float64(getEnvAsInt("ANOMALY_GEO_KM", 500)),
			ScoreThreshold:    getEnvAsInt("ANOMALY_SCORE_THRESHOLD", 50),
			RateWindow:        5 * time.Minute,
			RateThreshold:     getEnvAsInt("ANOMALY_RATE_THRESHOLD", 300),
			GatewayRatePerSec: 20,
			GatewayRateBurst:  40,
		},
		BcryptCost:  getEnvAsInt("BCRYPT_COST", 12),
		HashWorkers: getEnvAsInt("HASH_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs once at startup so policy mistakes fail fast instead of
// surfacing as odd runtime behavior.
func (c *Config) Validate() error {
	if c.Password.MinLength < 8 {
		return fmt.Errorf("config: PASSWORD_MIN_LENGTH must be >= 8, got %d", c.Password.MinLength)
	}
	if c.Password.MinUniqueChars > c.Password.MinLength {
		return fmt.Errorf("config: PASSWORD_MIN_UNIQUE (%d) cannot exceed PASSWORD_MIN_LENGTH (%d)",
			c.Password.MinUniqueChars, c.Password.MinLength)
	}
	if c.Lockout.AccountThreshold < 1 || c.Lockout.IPThreshold < 1 {
		return fmt.Errorf("config: lockout thresholds must be >= 1")
	}
	if c.Lockout.Multiplier < 1 {
		return fmt.Errorf("config: lockout multiplier must be >= 1, got %v", c.Lockout.Multiplier)
	}
	if c.Session.MaxConcurrentSessions < 1 {
		return fmt.Errorf("config: SESSION_MAX_CONCURRENT must be >= 1")
	}
	if c.Session.IdleTimeout > c.Session.AbsoluteLifetime {
		return fmt.Errorf("config: session idle timeout exceeds absolute lifetime")
	}
	if c.Mfa.BackupCodeCount <= c.Mfa.RegenerateAt {
		return fmt.Errorf("config: MFA_BACKUP_CODES must exceed the regeneration floor (%d)", c.Mfa.RegenerateAt)
	}
	if c.Token.AccessSecret == "" || c.Token.RefreshSecret == "" {
		return fmt.Errorf("config: token secrets must not be empty")
	}
	if c.BcryptCost < 10 || c.BcryptCost > 16 {
		return fmt.Errorf("config: BCRYPT_COST must be between 10 and 16, got %d", c.BcryptCost)
	}
	if c.HashWorkers < 1 {
		return fmt.Errorf("config: HASH_WORKERS must be >= 1")
	}
	return nil
}

func getEnv(key string, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func mustGetEnv(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	// Surfaced by Validate; returning empty keeps Load a single exit path.
	return ""
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
