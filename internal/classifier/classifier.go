// Package classifier scores captured frames for the condition of interest.
package classifier

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stone-age-io/fieldnode/internal/camera"
	"go.uber.org/zap"
)

// Classifier assigns a confidence in [0,1] to a frame
type Classifier interface {
	// Score returns the confidence that frame shows the condition of interest
	Score(ctx context.Context, frame *camera.Frame) (float64, error)

	// Name returns the classifier name for logging
	Name() string
}

// New creates the classifier for source: "contrast" (default) or "http".
// url and timeout are only used by the http source.
func New(source, url string, timeout time.Duration, logger *zap.Logger) (Classifier, error) {
	source = strings.ToLower(source)
	if source == "" {
		source = "contrast"
	}

	switch source {
	case "contrast":
		logger.Info("Using contrast classifier")
		return NewContrast(), nil
	case "http":
		if url == "" {
			return nil, fmt.Errorf("classifier url required for http source")
		}
		logger.Info("Using HTTP classifier", zap.String("url", url))
		return NewHTTP(url, createHTTPClient(timeout), logger), nil
	default:
		return nil, fmt.Errorf("unknown classifier source: %s", source)
	}
}

// createHTTPClient creates the client used for every inference request
func createHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          2,
			MaxIdleConnsPerHost:   1,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
