package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Engine   EngineConfig
	Breaker  BreakerConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string // 32 байта для AES-256-GCM, шифрование биржевых ключей
	APIAuthToken  string // bearer-токен API; пусто = без аутентификации (локально)
}

// EngineConfig - настройки движка расчетов и леджера
type EngineConfig struct {
	// Опрос статуса ордера после отправки
	PollAttempts int           // максимум попыток
	PollDelay    time.Duration // фиксированная пауза между попытками

	// Допуски леджера
	Epsilon        decimal.Decimal // прижатие отрицательного остатка к нулю
	DriftTolerance decimal.Decimal // порог тревоги расхождения с живым балансом

	// Ежедневный снимок стоимости стратегий
	SweepInterval time.Duration
	SweepLeaseTTL time.Duration
	SweepTimeout  time.Duration
}

// BreakerConfig - настройки circuit breaker биржевых вызовов
type BreakerConfig struct {
	FailureThreshold int           // отказов в окне до размыкания
	Window           time.Duration // окно подсчета отказов
	Cooldown         time.Duration // пауза до полуоткрытого состояния
	HalfOpenMax      int           // пробных вызовов в полуоткрытом состоянии
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "vledger"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APIAuthToken:  getEnv("API_AUTH_TOKEN", ""),
		},
		Engine: EngineConfig{
			PollAttempts: getEnvAsInt("ORDER_POLL_ATTEMPTS", 10),
			PollDelay:    getEnvAsDuration("ORDER_POLL_DELAY", 500*time.Millisecond),

			Epsilon:        getEnvAsDecimal("LEDGER_EPSILON", "0.00000001"),
			DriftTolerance: getEnvAsDecimal("DRIFT_TOLERANCE", "0.00000001"),

			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 24*time.Hour),
			SweepLeaseTTL: getEnvAsDuration("SWEEP_LEASE_TTL", 30*time.Minute),
			SweepTimeout:  getEnvAsDuration("SWEEP_TIMEOUT", 15*time.Minute),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			Window:           getEnvAsDuration("BREAKER_WINDOW", time.Minute),
			Cooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 30*time.Second),
			HalfOpenMax:      getEnvAsInt("BREAKER_HALF_OPEN_MAX", 2),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Опрос ордера ограничен, вебхук отвечает за конечное время
	if c.Engine.PollAttempts < 1 {
		return fmt.Errorf("ORDER_POLL_ATTEMPTS must be at least 1, got %d", c.Engine.PollAttempts)
	}

	if c.Engine.PollAttempts > 100 {
		return fmt.Errorf("ORDER_POLL_ATTEMPTS should not exceed 100, got %d", c.Engine.PollAttempts)
	}

	if c.Engine.PollDelay <= 0 {
		return fmt.Errorf("ORDER_POLL_DELAY must be positive, got %v", c.Engine.PollDelay)
	}

	if c.Engine.Epsilon.IsNegative() {
		return fmt.Errorf("LEDGER_EPSILON cannot be negative, got %s", c.Engine.Epsilon)
	}

	if c.Engine.DriftTolerance.IsNegative() {
		return fmt.Errorf("DRIFT_TOLERANCE cannot be negative, got %s", c.Engine.DriftTolerance)
	}

	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.Engine.SweepInterval)
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.Breaker.FailureThreshold)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return value
}
