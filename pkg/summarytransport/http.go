package summarytransport

// This file provides server-side and client-side bindings for the HTTP
// transport. It utilizes the transport/http.Server and transport/http.Client.

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdlog "log"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-kit/kit/circuitbreaker"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/tracing/zipkin"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/go-kit/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/summarysvc/datasummary/pkg/summaryendpoint"
	"github.com/summarysvc/datasummary/pkg/summaryservice"
)

var (
	// ErrUnsupportedMediaType is returned when the request is not declared
	// as JSON.
	ErrUnsupportedMediaType = errors.New("expected request with Content-Type: application/json")

	// ErrMalformedBody is returned when the request body is not valid JSON.
	ErrMalformedBody = errors.New("request body is not valid JSON")

	// ErrInvalidShape is returned when the request body is valid JSON but not
	// an object with a "data" array.
	ErrInvalidShape = errors.New("request body must be an object with a \"data\" array")

	// ErrBodyTooLarge is returned when the request body exceeds the
	// configured limit.
	ErrBodyTooLarge = errors.New("request body too large")

	errRouteNotFound    = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

// NewHTTPHandler returns an HTTP handler that makes a set of endpoints
// available on predefined paths. Request bodies larger than maxBodyBytes are
// rejected; zero disables the limit.
func NewHTTPHandler(endpoints summaryendpoint.Set, tracer *stdzipkin.Tracer, logger log.Logger, maxBodyBytes int64) http.Handler {
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(errorEncoder),
		httptransport.ServerErrorHandler(transport.NewLogErrorHandler(logger)),
		zipkin.HTTPServerTrace(tracer),
	}

	r := mux.NewRouter()
	r.NotFoundHandler = errorHandler(errRouteNotFound)
	r.MethodNotAllowedHandler = errorHandler(errMethodNotAllowed)

	// POST    /data      summarizes the values in the request body
	// GET     /health    liveness probe

	r.Methods("POST").Path("/data").Handler(httptransport.NewServer(
		endpoints.SummarizeEndpoint,
		decodeHTTPSummarizeRequest,
		encodeHTTPGenericResponse,
		options...,
	))
	r.Path("/data").Handler(errorHandler(errMethodNotAllowed))
	r.Methods("GET").Path("/health").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Path("/health").Handler(errorHandler(errMethodNotAllowed))

	var h http.Handler = r
	h = limitBody(maxBodyBytes, h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(stdlog.New(log.NewStdlibAdapter(logger), "", 0)),
	)(h)
	return h
}

// NewHTTPClient returns a summary service backed by an HTTP server living at
// the remote instance. We expect instance to come from a service discovery
// system, so likely of the form "host:port".
func NewHTTPClient(instance string, tracer *stdzipkin.Tracer, logger log.Logger) (summaryservice.Service, error) {
	if !strings.HasPrefix(instance, "http") {
		instance = "http://" + instance
	}
	u, err := url.Parse(instance)
	if err != nil {
		return nil, err
	}

	// We construct a single ratelimiter middleware, to limit the total
	// outgoing QPS from this client to all methods on the remote instance.
	limiter := ratelimit.NewErroringLimiter(rate.NewLimiter(rate.Every(time.Second), 100))

	options := []httptransport.ClientOption{
		zipkin.HTTPClientTrace(tracer),
		httptransport.ClientFinalizer(func(_ context.Context, err error) {
			if err != nil {
				logger.Log("transport", "HTTP", "method", "Summarize", "err", err)
			}
		}),
	}

	var summarizeEndpoint endpoint.Endpoint
	{
		summarizeEndpoint = httptransport.NewClient(
			"POST",
			copyURL(u, "/data"),
			encodeHTTPGenericRequest,
			decodeHTTPSummarizeResponse,
			options...,
		).Endpoint()
		summarizeEndpoint = zipkin.TraceEndpoint(tracer, "Summarize")(summarizeEndpoint)
		summarizeEndpoint = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "Summarize",
			Timeout: 30 * time.Second,
		}))(summarizeEndpoint)
		summarizeEndpoint = limiter(summarizeEndpoint)
	}

	// Returning the endpoint.Set as a service.Service relies on the
	// endpoint.Set implementing the Service methods.
	return summaryendpoint.Set{
		SummarizeEndpoint: summarizeEndpoint,
	}, nil
}

func copyURL(base *url.URL, path string) *url.URL {
	next := *base
	next.Path = path
	return &next
}

func limitBody(maxBodyBytes int64, next http.Handler) http.Handler {
	if maxBodyBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func errorHandler(err error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorEncoder(r.Context(), err, w)
	})
}

func errorEncoder(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(err2code(err))
	json.NewEncoder(w).Encode(errorWrapper{Error: err.Error()})
}

func err2code(err error) int {
	switch errors.Cause(err) {
	case ErrUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case ErrMalformedBody, summaryservice.ErrIntOverflow:
		return http.StatusBadRequest
	case ErrInvalidShape:
		return http.StatusUnprocessableEntity
	case ErrBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case ratelimit.ErrLimited:
		return http.StatusTooManyRequests
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		return http.StatusServiceUnavailable
	case errRouteNotFound:
		return http.StatusNotFound
	case errMethodNotAllowed:
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

func errorDecoder(r *http.Response) error {
	var w errorWrapper
	if err := json.NewDecoder(r.Body).Decode(&w); err != nil || w.Error == "" {
		return errors.New(r.Status)
	}
	if w.Error == summaryservice.ErrIntOverflow.Error() {
		return summaryservice.ErrIntOverflow
	}
	return errors.New(w.Error)
}

type errorWrapper struct {
	Error string `json:"error"`
}

// decodeHTTPSummarizeRequest is a transport/http.DecodeRequestFunc that decodes
// a JSON-encoded summarize request from the HTTP request body. A body that is
// not UTF-8 encoded JSON fails with ErrMalformedBody; JSON of the wrong shape
// fails with ErrInvalidShape. Object keys are matched exactly, so "Data" is
// not "data", and a repeated "data" key is rejected.
func decodeHTTPSummarizeRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if err := checkContentType(r.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.Wrapf(ErrBodyTooLarge, "limit is %d bytes", tooLarge.Limit)
		}
		return nil, errors.Wrap(ErrMalformedBody, err.Error())
	}
	if !utf8.Valid(body) {
		return nil, errors.Wrap(ErrMalformedBody, "invalid UTF-8")
	}
	var doc json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(ErrMalformedBody, err.Error())
	}
	if hasLoneSurrogate(doc) {
		return nil, errors.Wrap(ErrMalformedBody, "unpaired surrogate in string escape")
	}
	raw, err := lookupData(doc)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidShape, err.Error())
	}
	var data []summaryservice.Value
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(ErrInvalidShape, err.Error())
	}
	if data == nil {
		return nil, errors.Wrap(ErrInvalidShape, "field \"data\" is null")
	}
	return summaryendpoint.SummarizeRequest{Data: data}, nil
}

// lookupData returns the raw value of the single top-level "data" key of the
// well-formed JSON document doc. Other keys are skipped.
func lookupData(doc []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Errorf("expected object, have %v", describeToken(tok))
	}
	var data json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if key, _ := tok.(string); key == "data" {
			if data != nil {
				return nil, errors.New("duplicate field \"data\"")
			}
			data = value
		}
	}
	if data == nil {
		return nil, errors.New("missing field \"data\"")
	}
	return data, nil
}

func describeToken(tok json.Token) string {
	switch tok.(type) {
	case nil:
		return "null"
	case json.Delim:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	return "number"
}

// hasLoneSurrogate reports whether a string in the well-formed JSON document
// doc holds a \u escape for a UTF-16 surrogate that is not part of a
// high-low pair.
func hasLoneSurrogate(doc []byte) bool {
	var inString bool
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		if !inString {
			inString = c == '"'
			continue
		}
		switch c {
		case '"':
			inString = false
		case '\\':
			i++
			if doc[i] != 'u' {
				continue
			}
			r := hex4(doc[i+1 : i+5])
			i += 4
			switch {
			case r >= 0xD800 && r <= 0xDBFF:
				if i+6 >= len(doc) || doc[i+1] != '\\' || doc[i+2] != 'u' {
					return true
				}
				if lo := hex4(doc[i+3 : i+7]); lo < 0xDC00 || lo > 0xDFFF {
					return true
				}
				i += 6
			case r >= 0xDC00 && r <= 0xDFFF:
				return true
			}
		}
	}
	return false
}

func hex4(b []byte) rune {
	n, err := strconv.ParseUint(string(b), 16, 16)
	if err != nil {
		return utf8.RuneError
	}
	return rune(n)
}

func checkContentType(contentType string) error {
	if contentType == "" {
		return errors.Wrap(ErrUnsupportedMediaType, "missing Content-Type")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return errors.Wrap(ErrUnsupportedMediaType, err.Error())
	}
	if mediaType == "application/json" ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")) {
		return nil
	}
	return errors.Wrapf(ErrUnsupportedMediaType, "unsupported Content-Type %q", mediaType)
}

// decodeHTTPSummarizeResponse is a transport/http.DecodeResponseFunc that
// decodes a JSON-encoded summarize response from the HTTP response body. If
// the response has a non-200 status code, we will interpret that as an error
// and attempt to decode the specific error message from the response body.
// An overflow reported by the server stays a business error.
func decodeHTTPSummarizeResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if r.StatusCode != http.StatusOK {
		err := errorDecoder(r)
		if err == summaryservice.ErrIntOverflow {
			return summaryendpoint.SummarizeResponse{Err: err}, nil
		}
		return nil, err
	}
	var resp summaryendpoint.SummarizeResponse
	err := json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

// encodeHTTPGenericRequest is a transport/http.EncodeRequestFunc that
// JSON-encodes any request to the request body. Primarily useful in a client.
func encodeHTTPGenericRequest(_ context.Context, r *http.Request, request interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(request); err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	r.ContentLength = int64(buf.Len())
	r.Body = io.NopCloser(&buf)
	return nil
}

// encodeHTTPGenericResponse is a transport/http.EncodeResponseFunc that encodes
// the response as JSON to the response writer. Primarily useful in a server.
func encodeHTTPGenericResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if f, ok := response.(endpoint.Failer); ok && f.Failed() != nil {
		errorEncoder(ctx, f.Failed(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}
