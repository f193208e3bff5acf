package summaryendpoint

import (
	"context"
	"time"

	"github.com/go-kit/kit/circuitbreaker"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/tracing/zipkin"
	"github.com/go-kit/log"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/summarysvc/datasummary/pkg/summaryservice"
)

// Set collects all of the endpoints that compose a summary service. It's
// meant to be used as a helper struct, to collect all of the endpoints into a
// single parameter.
type Set struct {
	SummarizeEndpoint endpoint.Endpoint
}

// New returns a Set that wraps the provided server, and wires in all of the
// expected endpoint middlewares via the various parameters. Requests beyond
// limit per second are rejected with ratelimit.ErrLimited.
func New(svc summaryservice.Service, logger log.Logger, duration metrics.Histogram, tracer *stdzipkin.Tracer, limit rate.Limit) Set {
	var summarizeEndpoint endpoint.Endpoint
	{
		summarizeEndpoint = MakeSummarizeEndpoint(svc)
		// The limiter sits outside the breaker: a rejected request never
		// reaches the breaker, so bursts cannot open it.
		summarizeEndpoint = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "Summarize",
			Timeout: 30 * time.Second,
		}))(summarizeEndpoint)
		summarizeEndpoint = ratelimit.NewErroringLimiter(rate.NewLimiter(limit, burst(limit)))(summarizeEndpoint)
		summarizeEndpoint = zipkin.TraceEndpoint(tracer, "Summarize")(summarizeEndpoint)
		summarizeEndpoint = LoggingMiddleware(log.With(logger, "method", "Summarize"))(summarizeEndpoint)
		summarizeEndpoint = InstrumentingMiddleware(duration.With("method", "Summarize"))(summarizeEndpoint)
	}
	return Set{
		SummarizeEndpoint: summarizeEndpoint,
	}
}

func burst(limit rate.Limit) int {
	if limit == rate.Inf || limit < 1 {
		return 1
	}
	return int(limit)
}

// Summarize implements the service interface, so Set may be used as a service.
// This is primarily useful in the context of a client library.
func (s Set) Summarize(ctx context.Context, data []summaryservice.Value) (summaryservice.Summary, error) {
	resp, err := s.SummarizeEndpoint(ctx, SummarizeRequest{Data: data})
	if err != nil {
		return summaryservice.Summary{}, err
	}
	response := resp.(SummarizeResponse)
	return summaryservice.Summary{StringLen: response.StringLen, IntSum: response.IntSum}, response.Err
}

// MakeSummarizeEndpoint constructs a Summarize endpoint wrapping the service.
func MakeSummarizeEndpoint(s summaryservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(SummarizeRequest)
		v, err := s.Summarize(ctx, req.Data)
		return SummarizeResponse{StringLen: v.StringLen, IntSum: v.IntSum, Err: err}, nil
	}
}

// compile time assertions for our response types implementing endpoint.Failer.
var (
	_ endpoint.Failer = SummarizeResponse{}
)

// SummarizeRequest collects the request parameters for the Summarize method.
type SummarizeRequest struct {
	Data []summaryservice.Value `json:"data"`
}

// SummarizeResponse collects the response values for the Summarize method.
type SummarizeResponse struct {
	StringLen int   `json:"string_len"`
	IntSum    int64 `json:"int_sum"`
	Err       error `json:"-"` // should be intercepted by Failed/errorEncoder
}

// Failed implements endpoint.Failer.
func (r SummarizeResponse) Failed() error { return r.Err }
