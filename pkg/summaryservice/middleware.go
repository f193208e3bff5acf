package summaryservice

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/log"
)

// Middleware describes a service (as opposed to endpoint) middleware.
type Middleware func(Service) Service

// LoggingMiddleware takes a logger as a dependency
// and returns a service Middleware.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return loggingMiddleware{logger, next}
	}
}

type loggingMiddleware struct {
	logger log.Logger
	next   Service
}

func (mw loggingMiddleware) Summarize(ctx context.Context, data []Value) (s Summary, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Summarize",
			"elements", len(data),
			"string_len", s.StringLen,
			"int_sum", s.IntSum,
			"err", err,
			"took", time.Since(begin),
		)
	}(time.Now())
	return mw.next.Summarize(ctx, data)
}

// InstrumentingMiddleware returns a service middleware that instruments
// the number of string elements seen, integer elements summed and
// characters counted over the lifetime of the service.
func InstrumentingMiddleware(strs, ints, chars metrics.Counter) Middleware {
	return func(next Service) Service {
		return instrumentingMiddleware{
			strs:  strs,
			ints:  ints,
			chars: chars,
			next:  next,
		}
	}
}

type instrumentingMiddleware struct {
	strs  metrics.Counter
	ints  metrics.Counter
	chars metrics.Counter
	next  Service
}

func (mw instrumentingMiddleware) Summarize(ctx context.Context, data []Value) (Summary, error) {
	s, err := mw.next.Summarize(ctx, data)
	if err != nil {
		return s, err
	}
	var nstr, nint int
	for _, v := range data {
		switch v.Kind() {
		case String:
			nstr++
		case Integer:
			nint++
		}
	}
	mw.strs.Add(float64(nstr))
	mw.ints.Add(float64(nint))
	mw.chars.Add(float64(s.StringLen))
	return s, nil
}
