package summaryendpoint

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/log"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/reporter/recorder"
	"golang.org/x/time/rate"

	"github.com/summarysvc/datasummary/pkg/summaryservice"
)

func TestMakeSummarizeEndpoint(t *testing.T) {
	e := MakeSummarizeEndpoint(summaryservice.NewBasicService())
	resp, err := e(context.Background(), SummarizeRequest{Data: []summaryservice.Value{
		summaryservice.StringValue("ab"),
		summaryservice.IntegerValue(3),
		summaryservice.StringValue("c"),
		summaryservice.IntegerValue(4),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := (SummarizeResponse{StringLen: 3, IntSum: 7}), resp; want != have {
		t.Errorf("want %+v, have %+v", want, have)
	}
}

func TestMakeSummarizeEndpointFailer(t *testing.T) {
	e := MakeSummarizeEndpoint(summaryservice.NewBasicService())
	resp, err := e(context.Background(), SummarizeRequest{Data: []summaryservice.Value{
		summaryservice.IntegerValue(math.MaxInt64),
		summaryservice.IntegerValue(1),
	}})
	if err != nil {
		t.Fatalf("business errors must not be transport errors, have %v", err)
	}
	if want, have := summaryservice.ErrIntOverflow, resp.(SummarizeResponse).Failed(); want != have {
		t.Errorf("want %v, have %v", want, have)
	}
}

func TestSet(t *testing.T) {
	var (
		buf      bytes.Buffer
		duration = &recordingHistogram{}
		set      = New(summaryservice.NewBasicService(), log.NewLogfmtLogger(&buf), duration, newTracer(t), rate.Inf)
	)
	s, err := set.Summarize(context.Background(), []summaryservice.Value{
		summaryservice.StringValue("héllo"),
		summaryservice.IntegerValue(-5),
		summaryservice.IntegerValue(5),
	})
	if err != nil {
		t.Fatal(err)
	}
	if want, have := (summaryservice.Summary{StringLen: 5}), s; want != have {
		t.Errorf("want %+v, have %+v", want, have)
	}
	if want, have := "method Summarize success true", duration.labels(); want != have {
		t.Errorf("want %q, have %q", want, have)
	}
	if want, have := "method=Summarize transport_error=null", buf.String(); !strings.HasPrefix(have, want) {
		t.Errorf("want prefix %q, have %q", want, have)
	}

	_, err = set.Summarize(context.Background(), []summaryservice.Value{
		summaryservice.IntegerValue(math.MinInt64),
		summaryservice.IntegerValue(-1),
	})
	if want, have := summaryservice.ErrIntOverflow, err; want != have {
		t.Errorf("want %v, have %v", want, have)
	}
}

func TestSetRateLimit(t *testing.T) {
	set := New(summaryservice.NewBasicService(), log.NewNopLogger(), &recordingHistogram{}, newTracer(t), 1)
	if _, err := set.Summarize(context.Background(), nil); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := set.Summarize(context.Background(), nil)
	if want, have := ratelimit.ErrLimited, err; want != have {
		t.Errorf("want %v, have %v", want, have)
	}
}

func TestSetRateLimitKeepsBreakerClosed(t *testing.T) {
	set := New(summaryservice.NewBasicService(), log.NewNopLogger(), &recordingHistogram{}, newTracer(t), 1)
	if _, err := set.Summarize(context.Background(), nil); err != nil {
		t.Fatalf("first request: %v", err)
	}
	for i := 0; i < 20; i++ {
		_, err := set.Summarize(context.Background(), nil)
		if want, have := ratelimit.ErrLimited, err; want != have {
			t.Fatalf("request %d: want %v, have %v", i, want, have)
		}
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := set.Summarize(context.Background(), nil); err != nil {
		t.Errorf("after refill: %v", err)
	}
}

func TestSetTraces(t *testing.T) {
	rec := recorder.NewReporter()
	tracer, err := stdzipkin.NewTracer(rec, stdzipkin.WithSampler(stdzipkin.AlwaysSample))
	if err != nil {
		t.Fatal(err)
	}
	set := New(summaryservice.NewBasicService(), log.NewNopLogger(), &recordingHistogram{}, tracer, rate.Inf)
	if _, err := set.Summarize(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	spans := rec.Flush()
	if want, have := 1, len(spans); want != have {
		t.Fatalf("want %d span, have %d", want, have)
	}
	if want, have := "Summarize", spans[0].Name; !strings.EqualFold(want, have) {
		t.Errorf("want %q, have %q", want, have)
	}
}

func newTracer(t *testing.T) *stdzipkin.Tracer {
	t.Helper()
	tracer, err := stdzipkin.NewTracer(recorder.NewReporter())
	if err != nil {
		t.Fatal(err)
	}
	return tracer
}

// recordingHistogram remembers the label values of the last observation.
type recordingHistogram struct {
	mtx  sync.Mutex
	lvs  []string
	last []string
}

func (h *recordingHistogram) With(labelValues ...string) metrics.Histogram {
	return &recordingHistogramChild{parent: h, lvs: append(append([]string{}, h.lvs...), labelValues...)}
}

func (h *recordingHistogram) Observe(float64) { h.observe(h.lvs) }

func (h *recordingHistogram) observe(lvs []string) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.last = lvs
}

func (h *recordingHistogram) labels() string {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return strings.Join(h.last, " ")
}

type recordingHistogramChild struct {
	parent *recordingHistogram
	lvs    []string
}

func (h *recordingHistogramChild) With(labelValues ...string) metrics.Histogram {
	return &recordingHistogramChild{parent: h.parent, lvs: append(append([]string{}, h.lvs...), labelValues...)}
}

func (h *recordingHistogramChild) Observe(float64) { h.parent.observe(h.lvs) }
