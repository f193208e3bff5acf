package summaryservice

import (
	"context"
	"errors"
	"math"
	"math/bits"
	"unicode/utf8"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/log"
)

// Service describes a service that summarizes mixed JSON values.
type Service interface {
	Summarize(ctx context.Context, data []Value) (Summary, error)
}

// Summary is the result of summarizing a sequence of values.
type Summary struct {
	// StringLen is the number of Unicode scalar values across all String
	// elements.
	StringLen int

	// IntSum is the sum of all Integer elements.
	IntSum int64
}

// New returns a basic Service with all of the expected middlewares wired in.
func New(logger log.Logger, strs, ints, chars metrics.Counter) Service {
	var svc Service
	{
		svc = NewBasicService()
		svc = LoggingMiddleware(logger)(svc)
		svc = InstrumentingMiddleware(strs, ints, chars)(svc)
	}
	return svc
}

// ErrIntOverflow protects the int_sum field from leaving the int64 range.
// The sum is computed without intermediate wrapping, so the error depends
// only on the multiset of integers, never on their order.
var ErrIntOverflow = errors.New("integer overflow")

// NewBasicService returns a naïve, stateless implementation of Service.
func NewBasicService() Service {
	return basicService{}
}

type basicService struct{}

// Summarize implements Service.
func (s basicService) Summarize(_ context.Context, data []Value) (Summary, error) {
	var (
		stringLen int
		sum       accumulator
	)
	for _, v := range data {
		switch v.Kind() {
		case String:
			stringLen += utf8.RuneCountInString(v.Text())
		case Integer:
			sum.add(v.Int())
		}
	}
	n, ok := sum.int64()
	if !ok {
		return Summary{}, ErrIntOverflow
	}
	return Summary{StringLen: stringLen, IntSum: n}, nil
}

// accumulator is a 128-bit two's-complement integer.
type accumulator struct {
	hi int64
	lo uint64
}

func (a *accumulator) add(n int64) {
	var carry uint64
	a.lo, carry = bits.Add64(a.lo, uint64(n), 0)
	a.hi += int64(carry)
	if n < 0 {
		a.hi--
	}
}

func (a accumulator) int64() (int64, bool) {
	switch {
	case a.hi == 0 && a.lo <= math.MaxInt64:
		return int64(a.lo), true
	case a.hi == -1 && a.lo > math.MaxInt64:
		return int64(a.lo), true
	}
	return 0, false
}
