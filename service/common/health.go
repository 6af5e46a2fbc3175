package common

import (
	"fmt"
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

type HealthCheckArgs struct {
	HealthPort uint `arg:"--health-port,env:HEALTH_PORT" default:"8082"`
}

// StartHealthCheckServer serves /live and /ready on the given port in the
// background. The goroutine ceiling tracks the scan concurrency bound; a
// leak past it means scans are not releasing their slots.
func StartHealthCheckServer(port uint, maxScans int) {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(maxScans+64))
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%d", port), health)
		if err != nil {
			zap.S().Fatalf("health check server stopped unexpectedly: %v", err)
		}
	}()
}
