package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/server/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultDialTimeout = 5 * time.Second
	DefaultBufferSize  = 64 * 1024
	DefaultIdleTimeout = 30 * time.Second

	// maxJSONResponse bounds a relayed parse/compile document.
	maxJSONResponse = 32 << 20
	// maxErrorBody bounds how much of a rejection body is read for its message.
	maxErrorBody = 64 << 10

	tracerName = "github.com/dmitrijs2005/quickide/internal/server/pipeline"
)

// ErrStreamInterrupted marks a failure after the image response was
// committed to the client. The status line is gone; the only remaining
// signal is a truncated body.
var ErrStreamInterrupted = errors.New("image stream interrupted")

// ErrClientGone marks an image stream the client stopped reading. It is
// always wrapped together with ErrStreamInterrupted.
var ErrClientGone = errors.New("client stopped reading")

var errIdleTimeout = errors.New("compute engine stopped responding")

// Options configure a Proxy. Zero values take the package defaults.
type Options struct {
	BaseURL string
	// Timeout bounds a whole JSON stage call and the wait for response
	// headers of a streaming stage.
	Timeout     time.Duration
	DialTimeout time.Duration
	// BufferSize is the largest chunk held in memory while relaying images.
	BufferSize int
	// IdleTimeout bounds the gap between two reads of an image stream.
	IdleTimeout time.Duration
	// HTTPClient replaces the built-in client; its transport is then
	// responsible for dial and header timeouts.
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Proxy is safe for concurrent use. All fields are fixed at construction.
type Proxy struct {
	base        *url.URL
	client      *http.Client
	timeout     time.Duration
	bufferSize  int
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

func New(opts Options) (*Proxy, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("compute engine url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("compute engine url %q: want http(s)://host[:port]", opts.BaseURL)
	}

	p := &Proxy{
		base:        base,
		client:      opts.HTTPClient,
		timeout:     orDefault(opts.Timeout, DefaultTimeout),
		bufferSize:  opts.BufferSize,
		idleTimeout: orDefault(opts.IdleTimeout, DefaultIdleTimeout),
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
	}
	if p.bufferSize <= 0 {
		p.bufferSize = DefaultBufferSize
	}
	if p.client == nil {
		p.client = &http.Client{Transport: newTransport(orDefault(opts.DialTimeout, DefaultDialTimeout), p.timeout)}
	}
	return p, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// newTransport bounds connection setup and the wait for response headers.
// There is no overall client timeout: image bodies are bounded per read.
func newTransport(dialTimeout, headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}

func (p *Proxy) endpoint(stage Stage) string {
	return p.base.JoinPath(string(stage)).String()
}

// Forward runs a JSON stage. The request body is sent as is and, on a 2xx
// answer, the upstream body is returned unmodified.
func (p *Proxy) Forward(ctx context.Context, stage Stage, body []byte) (out []byte, err error) {
	start := time.Now()
	ctx, span := p.startSpan(ctx, stage)
	defer func() { p.finish(span, stage, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.do(ctx, stage, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return nil, rejected(resp)
	}

	out, err = io.ReadAll(io.LimitReader(resp.Body, maxJSONResponse+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", common.ErrUpstreamUnavailable, stage, err)
	}
	if len(out) > maxJSONResponse {
		return nil, &common.UpstreamRejectedError{
			StatusCode: http.StatusBadGateway,
			Message:    "compute engine response too large",
		}
	}
	return out, nil
}

// Stream runs an image stage and relays the answer to w through a buffer of
// at most BufferSize bytes, flushing after every chunk. Nothing is written
// to w until the first chunk arrives, so failures up to that point return
// plain errors and the caller may still answer with an error status.
// Failures after that wrap ErrStreamInterrupted.
func (p *Proxy) Stream(ctx context.Context, stage Stage, body []byte, w http.ResponseWriter) (n int64, err error) {
	start := time.Now()
	ctx, span := p.startSpan(ctx, stage)
	defer func() {
		span.SetAttributes(attribute.Int64("pipeline.bytes", n))
		if p.metrics != nil {
			p.metrics.StreamedBytes.WithLabelValues(string(stage)).Add(float64(n))
		}
		p.finish(span, stage, start, err)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	watchdog := time.AfterFunc(p.timeout, func() {
		idle.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	resp, err := p.do(ctx, stage, body)
	if err != nil {
		if idle.Load() {
			return 0, fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, errIdleTimeout)
		}
		return 0, err
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return 0, rejected(resp)
	}

	return p.relay(w, resp.Body, watchdog, &idle)
}

func (p *Proxy) relay(w http.ResponseWriter, body io.Reader, watchdog *time.Timer, idle *atomic.Bool) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, p.bufferSize)

	var written int64
	committed := false
	commit := func() {
		w.Header().Set("Content-Type", common.ImageContentType)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		committed = true
	}

	fail := func(err error) (int64, error) {
		if idle.Load() {
			err = errIdleTimeout
		}
		if !committed {
			return written, fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
		}
		return written, fmt.Errorf("%w after %d bytes: %w", ErrStreamInterrupted, written, err)
	}

	// Deadlines outlive the handler on a kept-alive connection.
	defer rc.SetWriteDeadline(time.Time{}) //nolint:errcheck

	for {
		watchdog.Reset(p.idleTimeout)
		nr, rerr := body.Read(buf)
		watchdog.Stop()
		if nr > 0 {
			if !committed {
				commit()
			}
			if werr := p.write(w, rc, buf[:nr], &written); werr != nil {
				return written, fmt.Errorf("%w after %d bytes: client write: %w: %w",
					ErrStreamInterrupted, written, ErrClientGone, werr)
			}
		}
		if rerr == io.EOF {
			if !committed {
				commit()
			}
			return written, nil
		}
		if rerr != nil {
			return fail(rerr)
		}
	}
}

// write sends one chunk to the client. The engine watchdog is stopped
// here, so each write carries its own deadline of one idle period.
func (p *Proxy) write(w http.ResponseWriter, rc *http.ResponseController, chunk []byte, written *int64) error {
	if err := rc.SetWriteDeadline(time.Now().Add(p.idleTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	nw, err := w.Write(chunk)
	*written += int64(nw)
	if err == nil && nw != len(chunk) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (p *Proxy) do(ctx context.Context, stage Stage, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(stage), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", stage, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stage.Streaming() {
		req.Header.Set("Accept", common.ImageContentType)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrUpstreamUnavailable, stage, err)
	}
	return resp, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}

// rejected turns a non-2xx answer into an *UpstreamRejectedError. The
// message is the upstream {"error": ...} field when present, else the body
// text, else the status text.
func rejected(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := ""
	var envelope struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		if s, ok := envelope.Error.(string); ok {
			msg = s
		} else if b, err := json.Marshal(envelope.Error); err == nil {
			msg = string(b)
		}
	}
	if strings.TrimSpace(msg) == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = "upstream error"
	}

	return &common.UpstreamRejectedError{StatusCode: resp.StatusCode, Message: msg}
}

func (p *Proxy) startSpan(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline."+string(stage),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pipeline.stage", string(stage)),
			attribute.String("server.address", p.base.Host),
		),
	)
}

func (p *Proxy) finish(span trace.Span, stage Stage, start time.Time, err error) {
	outcome := Outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()

	if p.metrics != nil {
		p.metrics.PipelineRequests.WithLabelValues(string(stage), outcome).Inc()
		p.metrics.PipelineDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

// Outcome classifies a stage result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrClientGone):
		return "client_gone"
	case errors.Is(err, ErrStreamInterrupted):
		return "interrupted"
	case errors.Is(err, common.ErrUpstreamUnavailable):
		return "unavailable"
	}
	if _, ok := common.IsUpstreamRejected(err); ok {
		return "rejected"
	}
	return "error"
}
