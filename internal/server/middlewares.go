package server

// middleware module provides various middleware modules for the server

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Brownie44l1/fer-recorder/internal/logging"
	limiter "github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/uptrace/bunrouter"
)

// newLimiter creates limiter middleware for given rate, e.g. 100-S
func newLimiter(period string) (*stdlib.Middleware, error) {
	rate, err := limiter.NewRateFromFormatted(period)
	if err != nil {
		return nil, err
	}
	store := memory.NewStore()
	instance := limiter.New(store, rate)
	return stdlib.NewMiddleware(instance), nil
}

// responseWriter is a minimal wrapper for http.ResponseWriter that allows the
// written HTTP status code and size to be captured for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

// wrapper for response writer
// based on https://blog.questionable.services/article/guide-logging-middleware-go/
func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) Status() int {
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(data)
	rw.size += int64(n)
	return n, err
}

// bunrouter logging middleware implementation
func loggingMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, r bunrouter.Request) error {
		start := time.Now()
		wrapped := wrapResponseWriter(w)
		err := next(wrapped, r)
		logging.LogRequest(r.Request, start, wrapped.status, wrapped.size)
		return err
	}
}

// bunrouter limiter middleware implementation, based on
// https://github.com/ulule/limiter/blob/master/drivers/middleware/stdlib/middleware.go#L36
func limitMiddleware(mw *stdlib.Middleware, verbose int) bunrouter.MiddlewareFunc {
	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			if verbose > 1 {
				log.Println("limiter middleware check")
			}
			r := req.Request
			key := mw.KeyGetter(r)
			if mw.ExcludedKey != nil && mw.ExcludedKey(key) {
				return next(w, req)
			}

			context, err := mw.Limiter.Get(r.Context(), key)
			if err != nil {
				mw.OnError(w, r, err)
				return nil
			}

			w.Header().Add("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
			w.Header().Add("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
			w.Header().Add("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

			if context.Reached {
				mw.OnLimitReached(w, r)
				return nil
			}
			return next(w, req)
		}
	}
}

// enableCORS allows browser clients from any origin
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
