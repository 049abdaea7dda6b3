// actor.go — контекст пользователя запроса. API Gateway передаёт
// идентификатор аутентифицированного пользователя в X-User-ID; значение
// кладётся в context и устанавливается в сессии PostgreSQL на время
// каждого обращения к базе.
package middleware

import (
	"net/http"
	"strings"

	"github.com/bigkaa/goartstore/inventory-module/internal/database"
)

// HeaderUserID — заголовок с идентификатором пользователя.
const HeaderUserID = "X-User-ID"

// maxUserIDLength — ограничение длины идентификатора.
const maxUserIDLength = 128

// Actor возвращает middleware, переносящий X-User-ID в context запроса.
// Пустой или слишком длинный заголовок игнорируется.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID != "" && len(userID) <= maxUserIDLength {
				r = r.WithContext(database.WithActor(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}
