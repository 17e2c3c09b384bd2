package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedOrigins - домены, которым разрешен браузерный доступ к API
// и WebSocket потоку леджера. В production список задается через
// переменную окружения CORS_ALLOWED_ORIGINS.
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://127.0.0.1:3000": true,
	"http://localhost:8080": true,
	"http://127.0.0.1:8080": true,
}

func init() {
	// Дополнительные origins из окружения (через запятую)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}
}

// isOriginAllowed проверяет, разрешен ли origin
func isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	return allowedOrigins[origin]
}

// CORS - middleware для Cross-Origin Resource Sharing.
//
// API леджера и дашборд выделений живут на разных хостах, так что
// браузеру нужны явные CORS заголовки. PATCH в списке методов - для
// переименования стратегий, Authorization в заголовках - для bearer
// токена API.
//
// Для разрешенных origins ставится конкретный домен с credentials
// (wildcard с credentials запрещен спецификацией CORS). Запросы без
// Origin (curl, TradingView webhooks, мониторинг) проходят как есть.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin == "" {
			// Запросы не из браузера - без Origin заголовка
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		// Неразрешенные origins не получают заголовков - браузер заблокирует

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// Preflight завершается здесь
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
