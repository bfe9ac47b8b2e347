package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ctxlogger "github.com/frahmantamala/courier-backoffice/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

const (
	masked         = "[FILTERED]"
	maxLoggedBody  = 4 << 10
	jsonMediaType  = "application/json"
	truncatedLabel = "...[truncated]"
)

// maskedKeys are JSON keys and header names whose values never reach the
// log. Login codes double as passwords, and the master password arrives in
// the same "password" field.
var maskedKeys = map[string]bool{
	"password":      true,
	"new_password":  true,
	"login_code":    true,
	"access_token":  true,
	"refresh_token": true,
	"authorization": true,
	"apikey":        true,
	"cookie":        true,
	"set-cookie":    true,
}

// maskedSuffixes catch the remaining credential-like keys.
var maskedSuffixes = []string{"_token", "_secret", "_password", "_hash"}

func isMasked(key string) bool {
	key = strings.ToLower(key)
	if maskedKeys[key] {
		return true
	}
	for _, suffix := range maskedSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// LoggingMiddleware logs each request and its response. JSON bodies are
// logged with credential fields masked, other bodies only by size. The
// request-scoped logger is used when RequestID has set one.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base
			if l := ctxlogger.From(r.Context()); l != nil {
				logger = l
			}

			var reqBody []byte
			if r.Body != nil {
				reqBody, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewReader(reqBody))
			}
			logger.Info("incoming request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"headers", maskHeaders(r.Header),
				"body", describeBody(r.Header.Get("Content-Type"), reqBody),
			)

			rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case rec.status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "response",
				"request_id", middleware.GetReqID(r.Context()),
				"route", routePattern(r),
				"status_code", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", rec.size,
				"body", describeBody(rec.Header().Get("Content-Type"), rec.body.Bytes()),
			)
		})
	}
}

// bodyRecorder keeps the first maxLoggedBody bytes of the response.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	size   int
	body   bytes.Buffer
}

func (rec *bodyRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *bodyRecorder) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rec.body.Len(); room > 0 {
		rec.body.Write(b[:min(room, len(b))])
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func maskHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isMasked(name) {
			out[name] = masked
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// describeBody renders body for the log. Requests to the auth endpoint may
// omit the content type, so anything that parses as JSON is treated as JSON.
func describeBody(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		if strings.HasPrefix(contentType, jsonMediaType) {
			return "[unparseable json]"
		}
		return "[" + http.DetectContentType(body) + "]"
	}

	out, err := json.Marshal(maskJSON(doc))
	if err != nil {
		return "[unloggable body]"
	}
	if len(out) > maxLoggedBody {
		return string(out[:maxLoggedBody]) + truncatedLabel
	}
	return string(out)
}

func maskJSON(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for key, value := range node {
			if isMasked(key) {
				out[key] = masked
				continue
			}
			out[key] = maskJSON(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, item := range node {
			out[i] = maskJSON(item)
		}
		return out
	default:
		return v
	}
}
