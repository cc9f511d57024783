// Package health serves the /livez and /readyz probes.
//
// Each probe runs in its own goroutine. A probe turns unhealthy only after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes, so a single slow query does not
// pull the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a probe reports on.
type Kind int

const (
	// Liveness probes decide whether the process should be restarted.
	Liveness Kind = iota
	// Readiness probes decide whether the instance receives traffic.
	Readiness
)

func (k Kind) String() string {
	if k == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Probe describes one registered check. Zero thresholds default to 3
// failures and 1 success.
type Probe struct {
	Name             string
	Kind             Kind
	Timeout          time.Duration
	Check            CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

// probeState is written only by its runner goroutine; the handlers read the
// atomics.
type probeState struct {
	Probe
	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

// run executes the check once and reports whether the health flag flipped.
func (s *probeState) run(ctx context.Context) (flipped bool) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Check(ctx)
	s.lastErr.Store(&err)

	was := s.healthy.Load()
	if err != nil {
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
	} else {
		s.fails = 0
		s.oks++
		if s.oks >= s.SuccessThreshold {
			s.healthy.Store(true)
		}
	}
	return was != s.healthy.Load()
}

func (s *probeState) failure() string {
	if p := s.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health owns the probes and the manual readiness flag.
type Health struct {
	ready atomic.Bool
	lg    *zap.Logger

	mu     sync.RWMutex
	probes []*probeState
	cancel context.CancelFunc
}

// New creates a Health that starts not ready. Call SetReady(true) once
// initialization is complete.
func New(lg *zap.Logger) *Health {
	return &Health{lg: lg.Named("health")}
}

// Add registers a probe. Probes added after Start are not run.
func (h *Health) Add(p Probe) {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = time.Second
	}
	s := &probeState{Probe: p}
	s.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, s)
}

// Start runs every probe immediately and then once per interval until Stop
// or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := h.probes
	h.mu.Unlock()

	for _, s := range probes {
		go h.loop(ctx, s, interval)
	}
}

func (h *Health) loop(ctx context.Context, s *probeState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if s.run(ctx) {
			h.logFlip(s)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) logFlip(s *probeState) {
	fields := []zap.Field{zap.String("probe", s.Name), zap.Stringer("kind", s.Kind)}
	if s.healthy.Load() {
		h.lg.Info("Probe recovered", fields...)
		return
	}
	h.lg.Warn("Probe unhealthy", append(fields, zap.String("error", s.failure()))...)
}

// Stop cancels the probe goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag. Shutdown clears it before
// draining connections.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// probe passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	probes := h.probes
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, s := range probes {
		if s.Kind == kind && !s.healthy.Load() {
			out[s.Name] = s.failure()
		}
	}
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Register mounts the probe endpoints on e.
func (h *Health) Register(e *echo.Echo) {
	e.GET("/livez", h.Live)
	e.GET("/readyz", h.Ready)
}

// Live answers 200 while every liveness probe passes, else 503 listing the
// failing probes.
func (h *Health) Live(c echo.Context) error {
	return respond(c, h.failures(Liveness))
}

// Ready answers 200 while the instance is marked ready and every readiness
// probe passes.
func (h *Health) Ready(c echo.Context) error {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return respond(c, failures)
}

func respond(c echo.Context, failures map[string]string) error {
	if len(failures) > 0 {
		return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "unhealthy", Checks: failures})
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}
