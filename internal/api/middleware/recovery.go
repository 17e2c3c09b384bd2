package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"vledger/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Назначение:
// Перехватывает panic в HTTP handlers и предотвращает падение всего сервера.
// Логирует информацию об ошибке и stack trace для отладки.
// Возвращает клиенту корректный HTTP ответ 500 Internal Server Error.
//
// Детали паники клиенту не отдаются: они попадают только в лог
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.L().WithComponent("http").Error("panic recovered",
					zap.Any("panic", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error": "internal server error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
