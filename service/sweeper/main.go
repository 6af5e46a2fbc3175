package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sift/controller/sweep"
	"sift/kusto"
	"sift/lib/utils/parallel"
	"sift/scan"
	"sift/service/common"

	"github.com/alexflint/go-arg"
	"github.com/samber/mo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type SweeperArgs struct {
	Endpoint     string        `arg:"--endpoint,env:SIFT_ENDPOINT,required" help:"query service endpoint URL"`
	Database     string        `arg:"--database,env:SIFT_DATABASE,required" help:"database to run the artifact query against"`
	Query        string        `arg:"--query,env:SIFT_QUERY,required" help:"query statement producing artifact URIs"`
	Column       string        `arg:"--column,env:SIFT_COLUMN" default:"Uri" help:"result column holding artifact URIs"`
	Pattern      string        `arg:"--pattern,env:SIFT_PATTERN" default:"No space left on device" help:"text to search for, case-insensitive"`
	Token        string        `arg:"--token,env:SIFT_TOKEN" help:"static bearer token for the query service"`
	Concurrency  int           `arg:"--concurrency,env:SIFT_CONCURRENCY" default:"50" help:"max artifact scans in flight"`
	MaxBodyBytes int64         `arg:"--max-body-bytes,env:SIFT_MAX_BODY_BYTES" default:"100000000" help:"per-artifact byte cap"`
	FetchTimeout time.Duration `arg:"--fetch-timeout,env:SIFT_FETCH_TIMEOUT" default:"2m" help:"per-artifact fetch-and-scan deadline"`
	ReportEvery  uint64        `arg:"--report-every,env:SIFT_REPORT_EVERY" default:"100" help:"progress telemetry interval, in started scans"`
	Dev          bool          `arg:"--dev" default:"true"`
}

func main() {
	var flags struct {
		SweeperArgs
		scan.S3Args
		common.PrometheusArgs
		common.HealthCheckArgs
		common.PprofArgs
	}
	arg.MustParse(&flags)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var logger *zap.Logger
	var err error
	if flags.Dev {
		logger, err = zap.NewDevelopment()
	} else {
		config := zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		logger, err = config.Build(
			zap.AddCaller(),
			zap.AddStacktrace(zap.ErrorLevel),
		)
	}
	if err != nil {
		log.Fatalf("failed to construct logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	_ = zap.ReplaceGlobals(logger)

	common.StartPromMetricsServer(flags.MetricsPort)
	common.StartHealthCheckServer(flags.HealthPort, flags.Concurrency)
	common.StartPprofServer(flags.PprofPort)

	// Ctrl-C / SIGTERM stop the producer and abort in-flight fetches.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auth := mo.None[kusto.TokenProvider]()
	if flags.Token != "" {
		auth = mo.Some[kusto.TokenProvider](kusto.StaticToken(flags.Token))
	}
	client, err := kusto.NewClient(kusto.ClientConfig{Endpoint: flags.Endpoint, Auth: auth})
	if err != nil {
		logger.Fatal("Failed to create query client", zap.Error(err))
	}

	s3 := mo.None[scan.Fetcher]()
	if flags.Region != "" {
		s3 = mo.Some[scan.Fetcher](scan.NewS3Fetcher(scan.S3Args{Region: flags.Region}))
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = flags.Concurrency
	scanner := scan.NewScanner(scan.Config{
		Pattern:      flags.Pattern,
		MaxBodyBytes: flags.MaxBodyBytes,
		FetchTimeout: flags.FetchTimeout,
		HTTPClient:   &http.Client{Transport: transport},
		S3:           s3,
		Logger:       logger,
	})

	logger.Info("Starting sweep",
		zap.String("database", flags.Database),
		zap.String("column", flags.Column),
		zap.Int("concurrency", flags.Concurrency))

	stream, err := client.Query(ctx, flags.Database, flags.Query)
	if err != nil {
		logger.Fatal("Query failed", zap.Error(err))
	}
	defer stream.Close()

	stats, err := sweep.Run(ctx,
		kusto.NewDecoder(stream, flags.Column, logger),
		scanner,
		parallel.NewGate(flags.Concurrency),
		sweep.NewWriterReporter(os.Stdout),
		sweep.Config{ReportEvery: flags.ReportEvery, Logger: logger},
	)
	snap := stats.Snapshot()
	fmt.Printf("swept %d artifacts: %d matched, %d clean, %d malformed, %d oversize, %d failed\n",
		snap.Started, snap.Matched, snap.NoMatch, snap.SkippedMalformed, snap.SkippedOversize, snap.Failed)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Sweep interrupted", zap.Error(err))
			return
		}
		logger.Fatal("Sweep failed", zap.Error(err))
	}
}
