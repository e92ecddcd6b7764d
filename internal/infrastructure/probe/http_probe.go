// Package probe estimates uplink throughput for the adaptive bitrate loop.
package probe

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"liveorch/internal/core/ports"
	"liveorch/pkg/tracing"
)

var ErrProbeFailed = errors.New("uplink probe failed")

const defaultPayloadBytes = 256 << 10

// HTTPUploadProbe POSTs a fixed random payload and derives kbps from the
// time the request took.
type HTTPUploadProbe struct {
	url     string
	payload []byte
	client  *http.Client
	logger  *zap.SugaredLogger
	now     func() time.Time
}

var _ ports.NetworkProbe = (*HTTPUploadProbe)(nil)

// NewHTTPUploadProbe measures uplink by uploading payloadBytes to url.
func NewHTTPUploadProbe(url string, payloadBytes int, timeout time.Duration, logger *zap.SugaredLogger) *HTTPUploadProbe {
	if payloadBytes <= 0 {
		payloadBytes = defaultPayloadBytes
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	payload := make([]byte, payloadBytes)
	// incompressible so proxies cannot shrink it
	_, _ = rand.Read(payload)

	return &HTTPUploadProbe{
		url:     url,
		payload: payload,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		now:    time.Now,
	}
}

// MeasureUplink times one upload and returns the throughput in kbps.
func (p *HTTPUploadProbe) MeasureUplink(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "probe.uplink")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(p.payload))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	elapsed := p.now().Sub(start)

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
	}

	kbps := Throughput(len(p.payload), elapsed)
	tracing.AddSpanAttributes(ctx, tracing.UplinkKey.Int(kbps))
	p.logger.Debugw("uplink measured", "kbps", kbps, "elapsed", elapsed.String(), "bytes", len(p.payload))
	return kbps, nil
}

// Throughput converts bytes sent over elapsed into whole kbps. A zero
// elapsed time is treated as one millisecond.
func Throughput(bytesSent int, elapsed time.Duration) int {
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}
	return int(float64(bytesSent) * 8 / 1000 / elapsed.Seconds())
}
