package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	stdzipkin "github.com/openzipkin/zipkin-go"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter"

	"github.com/summarysvc/datasummary/pkg/summaryservice"
	"github.com/summarysvc/datasummary/pkg/summarytransport"
)

func main() {
	fs := flag.NewFlagSet("summarycli", flag.ExitOnError)
	var (
		httpAddr = fs.String("http.addr", "localhost:8080", "HTTP address of datasummary")
		timeout  = fs.Duration("timeout", 5*time.Second, "request timeout")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s [flags] <value> [<value>...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Each value is parsed as JSON; anything else is sent as a string.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	tracer, err := stdzipkin.NewTracer(zipkinreporter.NewNoopReporter())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	svc, err := summarytransport.NewHTTPClient(*httpAddr, tracer, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	s, err := svc.Summarize(ctx, parseArgs(fs.Args()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "string_len=%d int_sum=%d\n", s.StringLen, s.IntSum)
}

func parseArgs(args []string) []summaryservice.Value {
	data := make([]summaryservice.Value, 0, len(args))
	for _, arg := range args {
		v, err := summaryservice.ParseValue([]byte(arg))
		if err != nil {
			v = summaryservice.StringValue(arg)
		}
		data = append(data, v)
	}
	return data
}
