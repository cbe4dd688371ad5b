// Package broker is the adapter to the retail FX broker: a streaming
// price feed over chunked HTTPS and a REST order/stop/close surface.
// Outbound order calls are wrapped in a circuit breaker and a token
// bucket; the streaming connection is opened once per session (spec.md
// §4.4, §4.5).
package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/predatorfx/hunter/internal/config"
	hunterrors "github.com/predatorfx/hunter/pkg/errors"
)

// Client is the broker adapter. One Client is shared by the session's
// decode loop and the order executor / exit authority.
type Client struct {
	cfg    *config.Config
	http   *http.Client
	logger *zap.Logger

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New constructs a broker Client. The circuit breaker trips after five
// consecutive REST failures within a 30s window and stays open a minute
// before probing again, mirroring the resilience defaults of
// internal/architecture/fx/resilience/circuit_breaker.go.
func New(cfg *config.Config, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "broker-rest",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("broker circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(8), 8), // 8 req/s, burst 8
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// OpenStream opens the chunked line-delimited price stream for the given
// instruments and returns the decompressed, still-open response body.
// The caller is responsible for closing it when the session's bounded
// decode window elapses (spec.md §4.5).
func (c *Client) OpenStream(ctx context.Context, instruments []string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v3/accounts/%s/pricing/stream", c.cfg.Broker.StreamBaseURL, c.cfg.Broker.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrStreamUnavailable, hunterrors.SeverityCritical, "building stream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Broker.Token)
	req.Header.Set("Accept-Encoding", "gzip")
	q := req.URL.Query()
	q.Set("instruments", joinComma(instruments))
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, hunterrors.Wrap(hunterrors.ErrStreamUnavailable, hunterrors.SeverityCritical, "opening price stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, hunterrors.New(hunterrors.ErrStreamUnavailable, hunterrors.SeverityCritical,
			fmt.Sprintf("price stream returned status %d", resp.StatusCode))
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			resp.Body.Close()
			return nil, hunterrors.Wrap(hunterrors.ErrStreamUnavailable, hunterrors.SeverityCritical, "opening gzip stream reader", gzErr)
		}
		return &gzipStreamCloser{Reader: gz, underlying: resp.Body}, nil
	}
	return resp.Body, nil
}

type gzipStreamCloser struct {
	*gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipStreamCloser) Close() error {
	closeErr := g.Reader.Close()
	if err := g.underlying.Close(); err != nil {
		return err
	}
	return closeErr
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
