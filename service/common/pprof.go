package common

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"go.uber.org/zap"
)

type PprofArgs struct {
	PprofPort uint `arg:"--pprof-port,env:PPROF_PORT" default:"6060"`
}

// StartPprofServer exposes the standard pprof endpoints on the given port.
// Ref: https://pkg.go.dev/net/http/pprof
func StartPprofServer(port uint) {
	go func() {
		zap.S().Info(http.ListenAndServe(fmt.Sprintf(":%d", port), nil))
	}()
}
