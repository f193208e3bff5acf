package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	stdzipkin "github.com/openzipkin/zipkin-go"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/summarysvc/datasummary/pkg/summaryendpoint"
	"github.com/summarysvc/datasummary/pkg/summaryservice"
	"github.com/summarysvc/datasummary/pkg/summarytransport"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultDebugAddr    = ":8081"
	defaultMaxBodyBytes = 1 << 20
	defaultRateLimit    = 100
	defaultLogLevel     = "info"
)

func main() {
	cfg, err := parseFlags(os.Args[0], os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}
	logger := newLogger(os.Stderr, cfg.logLevel)
	if err := serve(cfg, logger); err != nil {
		level.Error(logger).Log("exit", err)
		os.Exit(1)
	}
}

type config struct {
	httpAddr     string
	debugAddr    string
	zipkinURL    string
	maxBodyBytes int64
	rateLimit    float64
	logLevel     string
}

// parseFlags reads the server configuration from args, falling back to the
// environment and then to the defaults.
func parseFlags(name string, args []string) (config, error) {
	fs := flag.NewFlagSet("datasummary", flag.ContinueOnError)
	var cfg config
	fs.StringVar(&cfg.httpAddr, "http.addr", envString("HTTP_ADDR", defaultHTTPAddr), "HTTP listen address")
	fs.StringVar(&cfg.debugAddr, "debug.addr", envString("DEBUG_ADDR", defaultDebugAddr), "Debug and metrics listen address")
	fs.StringVar(&cfg.zipkinURL, "zipkin.url", envString("ZIPKIN_URL", ""), "Zipkin collector URL e.g. http://localhost:9411/api/v2/spans")
	fs.Int64Var(&cfg.maxBodyBytes, "max.body.bytes", envInt64("MAX_BODY_BYTES", defaultMaxBodyBytes), "Maximum request body size in bytes, 0 for unlimited")
	fs.Float64Var(&cfg.rateLimit, "rate.limit", envFloat64("RATE_LIMIT", defaultRateLimit), "Maximum requests per second, 0 for unlimited")
	fs.StringVar(&cfg.logLevel, "log.level", envString("LOG_LEVEL", defaultLogLevel), "debug, info, warn, error")
	fs.Usage = usageFor(fs, name+" [flags]")
	err := fs.Parse(args)
	return cfg, err
}

func (cfg config) limit() rate.Limit {
	if cfg.rateLimit <= 0 {
		return rate.Inf
	}
	return rate.Limit(cfg.rateLimit)
}

// newLogger creates a single logger, which we'll use and give to other
// components.
func newLogger(w io.Writer, lvl string) log.Logger {
	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
		logger = level.NewFilter(logger, level.Allow(level.ParseDefault(lvl, level.InfoValue())))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	return logger
}

// serve wires the server and blocks until it stops. Every return path goes
// through the deferred reporter Close, so buffered spans are flushed.
func serve(cfg config, logger log.Logger) error {
	// Spans are only shipped when a collector is configured; otherwise the
	// tracer still runs but reports nowhere.
	var zipkinTracer *stdzipkin.Tracer
	{
		var reporter zipkinreporter.Reporter = zipkinreporter.NewNoopReporter()
		if cfg.zipkinURL != "" {
			reporter = zipkinhttp.NewReporter(cfg.zipkinURL)
			level.Info(logger).Log("tracer", "Zipkin", "URL", cfg.zipkinURL)
		}
		defer reporter.Close()
		var err error
		zipkinTracer, err = newTracer(reporter, cfg.httpAddr)
		if err != nil {
			return errors.Wrap(err, "creating tracer")
		}
	}

	// Create the (sparse) metrics we'll use in the service. They, too, are
	// dependencies that we pass to components that use them.
	var strs, ints, chars metrics.Counter
	{
		// Business-level metrics.
		strs = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "datasummary",
			Subsystem: "summarysvc",
			Name:      "strings_counted",
			Help:      "Total count of string elements measured via the Summarize method.",
		}, []string{})
		ints = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "datasummary",
			Subsystem: "summarysvc",
			Name:      "integers_summed",
			Help:      "Total count of integer elements summed via the Summarize method.",
		}, []string{})
		chars = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "datasummary",
			Subsystem: "summarysvc",
			Name:      "characters_counted",
			Help:      "Total count of characters counted via the Summarize method.",
		}, []string{})
	}
	var duration metrics.Histogram
	{
		// Endpoint-level metrics.
		duration = prometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
			Namespace: "datasummary",
			Subsystem: "summarysvc",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds.",
		}, []string{"method", "success"})
	}
	debugMux := http.NewServeMux()
	debugMux.Handle("/metrics", promhttp.Handler())

	httpHandler := newHTTPHandler(cfg, logger, zipkinTracer, strs, ints, chars, duration)

	debugListener, err := net.Listen("tcp", cfg.debugAddr)
	if err != nil {
		return errors.Wrapf(err, "debug/HTTP listen on %s", cfg.debugAddr)
	}
	defer debugListener.Close()
	httpListener, err := net.Listen("tcp", cfg.httpAddr)
	if err != nil {
		return errors.Wrapf(err, "HTTP listen on %s", cfg.httpAddr)
	}
	defer httpListener.Close()

	var g run.Group
	{
		// The debug listener serves up the Prometheus metrics route.
		g.Add(func() error {
			level.Info(logger).Log("transport", "debug/HTTP", "addr", debugListener.Addr())
			return http.Serve(debugListener, debugMux)
		}, func(error) {
			debugListener.Close()
		})
	}
	{
		server := &http.Server{
			Handler:      httpHandler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			level.Info(logger).Log("transport", "HTTP", "addr", httpListener.Addr())
			return server.Serve(httpListener)
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}
	{
		// This function just sits and waits for ctrl-C.
		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))
	}
	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		level.Info(logger).Log("exit", err)
		return nil
	}
	return err
}

func newTracer(reporter zipkinreporter.Reporter, hostPort string) (*stdzipkin.Tracer, error) {
	var opts []stdzipkin.TracerOption
	if zEP, err := stdzipkin.NewEndpoint("datasummary", hostPort); err == nil {
		opts = append(opts, stdzipkin.WithLocalEndpoint(zEP))
	}
	return stdzipkin.NewTracer(reporter, opts...)
}

// newHTTPHandler builds the layers of the service "onion" from the inside
// out. First, the business logic service; then, the set of endpoints that
// wrap the service; and finally, the HTTP transport that exposes them.
func newHTTPHandler(cfg config, logger log.Logger, tracer *stdzipkin.Tracer, strs, ints, chars metrics.Counter, duration metrics.Histogram) http.Handler {
	var (
		service   = summaryservice.New(log.With(logger, "component", "service"), strs, ints, chars)
		endpoints = summaryendpoint.New(service, logger, duration, tracer, cfg.limit())
	)
	return summarytransport.NewHTTPHandler(endpoints, tracer, logger, cfg.maxBodyBytes)
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  -%-16s %s (default %q)\n", f.Name, f.Usage, f.DefValue)
		})
		fmt.Fprintf(os.Stderr, "\n")
	}
}

func envString(env, fallback string) string {
	e := os.Getenv(env)
	if e == "" {
		return fallback
	}
	return e
}

func envInt64(env string, fallback int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(env), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat64(env string, fallback float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(env), 64)
	if err != nil {
		return fallback
	}
	return f
}
