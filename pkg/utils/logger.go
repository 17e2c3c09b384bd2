package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка инициализации логгера для всего приложения.
//
// Возможности:
// - Форматы: JSON (production) и text (development)
// - Уровни: debug, info, warn, error, fatal
// - Вывод в файл или stderr
// - Глобальный логгер + контекстные логгеры через With*
// - Доменные конструкторы полей (Exchange, StrategyID, Amount, ...)

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (цветной вывод, caller)
}

// Logger - обёртка над zap.Logger с sugar-вариантом
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// parseLevel преобразует строковый уровень в zapcore.Level
// Неизвестные значения дают InfoLevel
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт логгер по конфигурации
//
// При невозможности открыть файл вывода не паникует,
// а делает fallback на stderr
func InitLogger(cfg LogConfig) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		if cfg.Development {
			encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// При ошибке остаёмся на stderr
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// InitGlobalLogger инициализирует и устанавливает глобальный логгер
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger возвращает глобальный логгер
// Если логгер не инициализирован, создаёт логгер по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	if globalLogger != nil {
		defer globalMu.RUnlock()
		return globalLogger
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Sugar возвращает sugar-вариант логгера
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// With возвращает новый логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// ============================================================
// Контекстные хелперы
// ============================================================

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithExchange возвращает логгер с полем exchange
func (l *Logger) WithExchange(name string) *Logger {
	return l.With(Exchange(name))
}

// WithSymbol возвращает логгер с полем symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithStrategyID возвращает логгер с полем strategy_id
func (l *Logger) WithStrategyID(id int) *Logger {
	return l.With(StrategyID(id))
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { GetGlobalLogger().Fatal(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetGlobalLogger().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(template, args...) }

// ============================================================
// Доменные конструкторы полей
// ============================================================

// Exchange - имя биржи
func Exchange(name string) zap.Field { return zap.String("exchange", name) }

// Symbol - торговая пара (BTC/USDT)
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }

// StrategyID - идентификатор стратегии
func StrategyID(id int) zap.Field { return zap.Int("strategy_id", id) }

// CredentialID - идентификатор биржевого ключа
func CredentialID(id int) zap.Field { return zap.Int("credential_id", id) }

// OrderID - идентификатор ордера на бирже
func OrderID(id string) zap.Field { return zap.String("order_id", id) }

// ClientOrderID - клиентский идентификатор ордера
func ClientOrderID(id string) zap.Field { return zap.String("client_order_id", id) }

// Asset - символ актива (BTC, USDT)
func Asset(asset string) zap.Field { return zap.String("asset", asset) }

// Amount - количество актива (строкой, без потери точности)
func Amount(amount string) zap.Field { return zap.String("amount", amount) }

// Price - цена (строкой, без потери точности)
func Price(price string) zap.Field { return zap.String("price", price) }

// Side - сторона сделки (buy/sell)
func Side(side string) zap.Field { return zap.String("side", side) }

// Status - нормализованный статус (success/error/rejected/ignored)
func Status(status string) zap.Field { return zap.String("status", status) }

// Latency - длительность операции в миллисекундах
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// RequestID - идентификатор запроса
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// UserID - идентификатор пользователя
func UserID(id int) zap.Field { return zap.Int("user_id", id) }

// Component - имя компонента (ledger, settlement, scheduler, ...)
func Component(name string) zap.Field { return zap.String("component", name) }
