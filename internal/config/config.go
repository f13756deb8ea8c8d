package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// パスワードハッシュの反復回数の下限
const minPBKDF2Iterations = 100_000

// CORS_ALLOWED_ORIGINのデフォルト（カンマ区切り）
const defaultCORSOrigins = "http://localhost:5500,http://127.0.0.1:5500"

// メール送信タイムアウトの上限
const maxMailTimeout = 10 * time.Second

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	SecretKey    string
	JWTAlgorithm string
	TokenTTL     time.Duration

	// Password
	PBKDF2Iterations int
	OTPTTL           time.Duration

	// Google / reCAPTCHA
	GoogleClientID     string
	RecaptchaSecretKey string
	RecaptchaMinScore  float64

	// Mail
	Mail          MailConfig
	OperatorEmail string

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Cleanup
	CleanupInterval          time.Duration
	LoginRecordRetentionDays int
	WorkerMetricsPort        string // 空の場合workerはメトリクスを公開しない

	// Seeds
	SeedRoles string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string // カンマ区切りの許可オリジン
}

// MailConfig はSMTP送信の設定を保持する。
// Serverが空の場合はメール送信を行わない。
type MailConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	Timeout  time.Duration
}

// Enabled はSMTPサーバーが設定されているかを返す。
func (m MailConfig) Enabled() bool {
	return m.Server != ""
}

// Load はカレントディレクトリの.envを読み込んだ後、環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadWithEnvFile(".env")
}

// LoadWithEnvFile はpathの.envファイル（存在する場合）を読み込んだ後、環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envの値で上書きしない。
func LoadWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTAlgorithm = strings.ToUpper(getEnvString("JWT_ALGORITHM", "HS256"))
	switch cfg.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported JWT_ALGORITHM: %s", cfg.JWTAlgorithm)
	}
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 10*time.Hour)
	cfg.PBKDF2Iterations = max(getEnvInt("PBKDF2_ITERATIONS", 200_000), minPBKDF2Iterations)
	cfg.OTPTTL = getEnvDuration("OTP_TTL", 5*time.Minute)

	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.RecaptchaSecretKey = getEnvString("RECAPTCHA_SECRET_KEY", "")
	cfg.RecaptchaMinScore = getEnvFloat("RECAPTCHA_MIN_SCORE", 0.5)

	cfg.Mail = MailConfig{
		Server:   getEnvString("MAIL_SERVER", ""),
		Port:     getEnvInt("MAIL_PORT", 587),
		Username: getEnvString("MAIL_USERNAME", ""),
		Password: getEnvString("MAIL_PASSWORD", ""),
		From:     getEnvString("MAIL_FROM", ""),
		StartTLS: getEnvBool("MAIL_STARTTLS", true),
		Timeout:  min(getEnvDuration("MAIL_TIMEOUT", maxMailTimeout), maxMailTimeout),
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}
	cfg.OperatorEmail = getEnvString("OPERATOR_EMAIL", "")

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LoginRecordRetentionDays = getEnvInt("LOGIN_RECORD_RETENTION_DAYS", 90)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.SeedRoles = getEnvString("SEED_ROLES", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", defaultCORSOrigins)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
