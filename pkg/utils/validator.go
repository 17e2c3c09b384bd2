package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация и нормализация входных данных
//
// Назначение:
// Проверка корректности данных, приходящих из webhook-сигналов
// и пользовательского API, ДО того как они попадут в ledger.
//
// Функции:
// - NormalizeTicker: приведение тикера к канонической форме BASE/QUOTE
// - ValidatePair: проверка пары на формат
// - ValidateAsset: проверка символа актива
// - ValidateAction: проверка действия (buy/sell)
// - ValidateAPIKey: базовая проверка API ключа

// Ошибки валидации
var (
	ErrEmptyTicker    = errors.New("ticker is empty")
	ErrInvalidTicker  = errors.New("ticker must have form BASE/QUOTE")
	ErrInvalidAsset   = errors.New("asset symbol is invalid")
	ErrInvalidAction  = errors.New("action must be buy or sell")
	ErrEmptyAPIKey    = errors.New("api key is empty")
	ErrAPIKeyTooShort = errors.New("api key is too short")
)

// assetRe - допустимые символы актива: 2-12 заглавных букв/цифр
var assetRe = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

// knownQuotes - котировочные активы для разбора слитных тикеров
// ("BTCUSDT" без разделителя). Длинные суффиксы первыми, чтобы
// "SOLUSDC" не разобрался как SOLUS/DC
var knownQuotes = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"USD", "DAI", "EUR", "GBP", "BTC", "ETH", "BNB",
}

// NormalizeTicker приводит тикер к канонической форме BASE/QUOTE.
//
// Источники сигналов присылают тикеры в разном виде:
// "BTC/USDT", "BTC-USDT", "btc usdt", слитно "BTCUSDT" (так шлет
// TradingView). Разделители ('-', '/', пробел) нормализуются, регистр
// поднимается, слитная форма разбирается по известному котировочному
// суффиксу.
//
// Несоответствие формату - это отклонение сигнала, а не тихая
// переадресация, поэтому возвращается ошибка
func NormalizeTicker(ticker string) (string, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return "", ErrEmptyTicker
	}

	normalized := strings.ToUpper(ticker)
	for _, sep := range []string{"-", " "} {
		normalized = strings.ReplaceAll(normalized, sep, "/")
	}

	if !strings.Contains(normalized, "/") {
		split, ok := splitConcatenated(normalized)
		if !ok {
			return "", ErrInvalidTicker
		}
		normalized = split
	}

	parts := strings.Split(normalized, "/")
	if len(parts) != 2 {
		return "", ErrInvalidTicker
	}

	base, quote := parts[0], parts[1]
	if !assetRe.MatchString(base) || !assetRe.MatchString(quote) {
		return "", ErrInvalidTicker
	}
	if base == quote {
		return "", ErrInvalidTicker
	}

	return base + "/" + quote, nil
}

// splitConcatenated разбирает слитный тикер по известному
// котировочному суффиксу: "BTCUSDT" -> "BTC/USDT"
func splitConcatenated(ticker string) (string, bool) {
	for _, quote := range knownQuotes {
		if strings.HasSuffix(ticker, quote) && len(ticker) > len(quote) {
			return ticker[:len(ticker)-len(quote)] + "/" + quote, true
		}
	}
	return "", false
}

// ValidatePair проверяет, что пара имеет канонический вид BASE/QUOTE
func ValidatePair(pair string) error {
	normalized, err := NormalizeTicker(pair)
	if err != nil {
		return err
	}
	if normalized != pair {
		return fmt.Errorf("%w: got %q, canonical form is %q", ErrInvalidTicker, pair, normalized)
	}
	return nil
}

// ValidateAsset проверяет символ актива (BTC, USDT, ...)
func ValidateAsset(asset string) error {
	if !assetRe.MatchString(asset) {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return nil
}

// ValidateAction проверяет действие торгового сигнала
func ValidateAction(action string) error {
	switch strings.ToLower(action) {
	case "buy", "sell":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// ValidateAPIKey выполняет базовую проверку API ключа.
// Полная проверка возможна только запросом к бирже
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyAPIKey
	}
	if len(key) < 16 {
		return ErrAPIKeyTooShort
	}
	return nil
}
