package mlserver

// middleware module provides various middleware modules for model server
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	limiter "github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/uptrace/bunrouter"

	"github.com/vkuznet/gordo-client/internal/metrics"
)

// helper function to create limiter middleware for given rate, e.g. 100-S
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
	if rw.status == 0 {
		return http.StatusOK
	}
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
func (s *Server) loggingMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		start := time.Now()
		wrapped := wrapResponseWriter(w)
		err := next(wrapped, req)
		s.logRequest(req.Request, start, wrapped.Status(), wrapped.size)
		metrics.RecordServerRequest(req.Method, wrapped.Status(), start)
		return err
	}
}

// helper function to log every single user request
func (s *Server) logRequest(r *http.Request, start time.Time, status int, bytesOut int64) {
	referer := r.Referer()
	if referer == "" {
		referer = "-"
	}
	uri, err := url.QueryUnescape(r.RequestURI)
	if err != nil {
		uri = r.RequestURI
	}
	s.Log.Info("request",
		"proto", r.Proto,
		"status", status,
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"uri", uri,
		"bytes_in", r.ContentLength,
		"bytes_out", bytesOut,
		"referer", referer,
		"user_agent", r.Header.Get("User-Agent"),
		"request_id", r.Header.Get("X-Request-ID"),
		"request_time", time.Since(start).Seconds(),
	)
}

// bunrouter limiter middleware implementation, based on
// https://github.com/ulule/limiter/blob/master/drivers/middleware/stdlib/middleware.go#L36
func (s *Server) limitMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		r := req.Request
		key := s.limiter.KeyGetter(r)
		if s.limiter.ExcludedKey != nil && s.limiter.ExcludedKey(key) {
			return next(w, req)
		}

		context, err := s.limiter.Limiter.Get(r.Context(), key)
		if err != nil {
			s.limiter.OnError(w, r, err)
			return err
		}

		w.Header().Add("X-RateLimit-Limit", strconv.FormatInt(context.Limit, 10))
		w.Header().Add("X-RateLimit-Remaining", strconv.FormatInt(context.Remaining, 10))
		w.Header().Add("X-RateLimit-Reset", strconv.FormatInt(context.Reset, 10))

		if context.Reached {
			s.limiter.OnLimitReached(w, r)
			return nil
		}
		return next(w, req)
	}
}
