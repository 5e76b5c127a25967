// Package ratelimit limits requests per client in fixed one-minute windows.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const window = time.Minute

// Limiter decides whether one more request from key is allowed in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process Limiter. Counters are lost on restart and are not
// shared between instances.
type Memory struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	limit        int
	now          func() time.Time
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	windowStart time.Time
	requests    int
}

// NewMemory returns a limiter allowing perMinute requests per key and starts
// a goroutine that drops idle keys. Call Stop to end it.
func NewMemory(perMinute int) *Memory {
	m := &Memory{
		clients:     make(map[string]*clientInfo),
		limit:       perMinute,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go m.startCleanup(5 * time.Minute)
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	client, ok := m.clients[key]
	if !ok || now.Sub(client.windowStart) >= window {
		m.clients[key] = &clientInfo{windowStart: now, requests: 1}
		return m.limit > 0, nil
	}

	client.requests++
	return client.requests <= m.limit, nil
}

func (m *Memory) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupStaleEntries()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Memory) cleanupStaleEntries() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-2 * window)
	for key, client := range m.clients {
		if client.windowStart.Before(cutoff) {
			delete(m.clients, key)
		}
	}
}

// ActiveClients returns the number of currently tracked clients.
func (m *Memory) ActiveClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Stop ends the cleanup goroutine.
func (m *Memory) Stop() {
	m.shutdownOnce.Do(func() { close(m.stopCleanup) })
}

// Middleware rejects requests over the limit with onLimit. When the limiter
// itself fails the request is let through and the failure is logged.
func Middleware(l Limiter, extractIP func(*http.Request) string, log logrus.FieldLogger, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	log = log.WithField("component", "rate_limit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := extractIP(r)

			allowed, err := l.Allow(r.Context(), clientIP)
			if err != nil {
				log.WithError(err).WithField("client_ip", clientIP).Warn("Rate limiter unavailable, allowing request")
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns an IP extractor that honours X-Forwarded-For and
// X-Real-IP only when the direct peer is one of trustedProxies.
func ClientIP(trustedProxies []string) func(*http.Request) string {
	trusted := make(map[string]bool, len(trustedProxies))
	for _, p := range trustedProxies {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			trusted[ip.String()] = true
		}
	}

	return func(r *http.Request) string {
		directIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			directIP = r.RemoteAddr
		}

		parsed := net.ParseIP(directIP)
		if parsed == nil || !trusted[parsed.String()] {
			return directIP
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		return directIP
	}
}
