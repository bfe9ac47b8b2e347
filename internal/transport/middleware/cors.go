package middleware

import (
	"net/http"
	"strings"
)

// CORSAllowedHeaders are the request headers browsers may send: auth and
// content headers plus the client-platform identification headers.
var CORSAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

var corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}

// CORS adds the CORS headers to every response and answers every OPTIONS
// request with 204 and no body. An origin list containing "*" allows any
// origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	wildcard := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	allowHeaders := strings.Join(CORSAllowedHeaders, ", ")
	allowMethods := strings.Join(corsAllowedMethods, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if origin := r.Header.Get("Origin"); allowed[origin] {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", allowMethods)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
