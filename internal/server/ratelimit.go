package server

import (
	"NaiVault/internal/observability"
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Limiter hands out one token bucket per client.
type Limiter struct {
	perSecond rate.Limit
	burst     int
	idleTTL   time.Duration
	metrics   *observability.Metrics

	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows requestsPerMinute per client with the given burst.
// Returns nil when requestsPerMinute is not positive.
func NewLimiter(requestsPerMinute float64, burst int, metrics *observability.Metrics) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		perSecond: rate.Limit(requestsPerMinute / 60.0),
		burst:     burst,
		idleTTL:   10 * time.Minute,
		metrics:   metrics,
		visitors:  make(map[string]*visitor),
		clockNow:  time.Now,
	}
}

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	now := l.clockNow()
	v, ok := l.visitors[client]
	if !ok {
		l.sweep(now)
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, id)
		}
	}
}

func (l *Limiter) throttled(method string) {
	if l.metrics != nil {
		l.metrics.IngestThrottled.WithLabelValues(method).Inc()
	}
}

// UnaryInterceptor limits the listed methods per peer address.
func (l *Limiter) UnaryInterceptor(methods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !methods[info.FullMethod] {
			return handler(ctx, req)
		}
		if !l.Allow(peerKey(ctx)) {
			l.throttled(info.FullMethod)
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	return hostOf(p.Addr.String())
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
