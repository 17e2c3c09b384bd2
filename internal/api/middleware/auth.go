package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"vledger/pkg/crypto"
)

// debugUsername и debugPassword для защиты debug endpoints.
// Загружаются из переменных окружения DEBUG_USERNAME и DEBUG_PASSWORD.
// Если не установлены, debug endpoints будут недоступны в production.
var (
	debugUsername = os.Getenv("DEBUG_USERNAME")
	debugPassword = os.Getenv("DEBUG_PASSWORD")
)

// apiAuthToken - статический bearer-токен для защиты API.
// Загружается из переменной окружения API_AUTH_TOKEN.
// Если не установлен, API доступен без аутентификации
// (локальное развертывание одним оператором).
//
// Альтернатива: API_AUTH_TOKEN_HASH хранит bcrypt-хеш токена,
// чтобы открытый текст не лежал в окружении процесса
var (
	apiAuthToken     = os.Getenv("API_AUTH_TOKEN")
	apiAuthTokenHash = os.Getenv("API_AUTH_TOKEN_HASH")
)

// checkAPIToken проверяет bearer-токен против настроенного секрета
func checkAPIToken(token string) bool {
	if apiAuthTokenHash != "" {
		return crypto.VerifyPassword(token, apiAuthTokenHash) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiAuthToken)) == 1
}

type contextKey string

const userIDKey contextKey = "user_id"

// defaultUserID - идентификатор оператора в однопользовательском
// развертывании. Многопользовательский режим потребует JWT с claims
const defaultUserID = 1

// UserIDFromContext извлекает идентификатор пользователя,
// установленный middleware Auth
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return defaultUserID
}

// DebugAuth - middleware для защиты debug/pprof endpoints
//
// Назначение:
// Защищает debug endpoints (/debug/pprof/*, /debug/runtime) от неавторизованного доступа.
// Использует HTTP Basic Authentication для простоты.
//
// Конфигурация:
// - DEBUG_USERNAME: имя пользователя для доступа к debug endpoints
// - DEBUG_PASSWORD: пароль для доступа к debug endpoints
// - Если переменные не установлены, доступ запрещен (401)
//
// Безопасность:
// - Использует constant-time сравнение для предотвращения timing attacks
// - В production ОБЯЗАТЕЛЬНО установить DEBUG_USERNAME и DEBUG_PASSWORD
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Если credentials не настроены, запрещаем доступ в production
		if debugUsername == "" || debugPassword == "" {
			// В development (если явно не настроено) разрешаем доступ
			if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD.", http.StatusForbidden)
			return
		}

		// Получаем credentials из запроса
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Constant-time сравнение для предотвращения timing attacks
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(debugPassword)) == 1

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Auth - middleware для аутентификации запросов к API
//
// Назначение:
// Проверяет статический bearer-токен из заголовка Authorization и
// добавляет идентификатор пользователя в context запроса.
//
// Конфигурация:
// - API_AUTH_TOKEN: токен доступа в открытом виде
// - API_AUTH_TOKEN_HASH: bcrypt-хеш токена (имеет приоритет)
// - если не установлены, проверка отключена (локальное развертывание)
//
// ВАЖНО: вебхуки TradingView аутентифицируются собственным секретным
// токеном в URL и через этот middleware не проходят
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiAuthToken != "" || apiAuthTokenHash != "" {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || !checkAPIToken(token) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "unauthorized"}`))
				return
			}
		}

		ctx := context.WithValue(r.Context(), userIDKey, defaultUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
