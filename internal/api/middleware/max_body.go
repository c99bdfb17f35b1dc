package middleware

import (
	"net/http"

	"github.com/cloo-solutions/policyrag/internal/api"
)

// DefaultJSONBodyBytes bounds the JSON bodies of query and admin requests.
const DefaultJSONBodyBytes int64 = 1 << 20

// MaxBodyBytes rejects a request whose declared length is over limit and caps
// reads of the rest, so a handler reading past limit gets *http.MaxBytesError.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.BodyTooLarge(w, limit)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
