package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"vledger/pkg/utils"
)

// Logging - middleware для логирования HTTP запросов
//
// Назначение:
// Логирует все входящие HTTP запросы для мониторинга и отладки.
// Записывает важную информацию о каждом запросе в структурированном формате.
//
// Функции:
// - Логирование метода HTTP (GET, POST, PUT, DELETE, etc.)
// - Логирование пути запроса (URL path)
// - Логирование IP адреса клиента
// - Измерение времени обработки запроса (latency)
// - Логирование статус кода ответа
// - Логирование размера ответа (в байтах)
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter чтобы захватить status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		utils.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
			zap.Int64("bytes", wrapped.written),
		)
	})
}
