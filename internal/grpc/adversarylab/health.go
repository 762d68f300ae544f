package adversarylab

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"adversary-lab/pkg/logger"
)

// ServiceName is the health-check name of the campaign API
const ServiceName = "adversarylab.v1.CampaignService"

const defaultCheckInterval = 10 * time.Second

// Check is one dependency probe. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthChecker flips the gRPC health status from dependency probes
type HealthChecker struct {
	server   *health.Server
	checks   []Check
	interval time.Duration
	logger   *logger.Logger
}

// RegisterHealthServer registers the gRPC health service and probes checks
// every interval until ctx is done
func RegisterHealthServer(ctx context.Context, grpcServer grpc.ServiceRegistrar, interval time.Duration, log *logger.Logger, checks ...Check) *HealthChecker {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	h := &HealthChecker{
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   log.WithComponent("grpc-health"),
	}
	grpc_health_v1.RegisterHealthServer(grpcServer, h.server)

	h.CheckOnce(ctx)
	go h.loop(ctx)
	return h
}

func (h *HealthChecker) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs every probe and updates the serving status. It reports
// whether all probes passed.
func (h *HealthChecker) CheckOnce(ctx context.Context) bool {
	healthy := true
	for _, c := range h.checks {
		probeCtx, cancel := context.WithTimeout(ctx, h.interval)
		err := c.Probe(probeCtx)
		cancel()
		if err != nil {
			healthy = false
			h.logger.Warn().Err(err).Str("check", c.Name).Msg("dependency unhealthy")
		}
	}

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return healthy
}

// Server exposes the underlying health server
func (h *HealthChecker) Server() *health.Server {
	return h.server
}
