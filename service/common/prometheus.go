package common

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type PrometheusArgs struct {
	MetricsPort uint `arg:"--metrics-port,env:METRICS_PORT" default:"2112"`
}

// StartPromMetricsServer exposes /metrics on the given port in the
// background. Scan outcome counters and function timers land here.
func StartPromMetricsServer(port uint) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%d", port), router)
		if err != nil && err != http.ErrServerClosed {
			zap.S().Fatalf("metrics server stopped unexpectedly: %v", err)
		}
	}()
}
