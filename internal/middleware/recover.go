package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/mwork/chat-governor/internal/pkg/logger"
	"github.com/mwork/chat-governor/internal/pkg/response"
)

// Recover is a middleware that recovers from panics
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				// net/http uses this sentinel to abort a response silently
				if err == http.ErrAbortHandler {
					panic(err)
				}

				// Log the panic with stack trace
				logger.FromContext(r.Context()).Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				// Return 500 error to client
				response.InternalError(w)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
