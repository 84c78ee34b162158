package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/stone-age-io/fieldnode/internal/camera"
	"go.uber.org/zap"
)

// HTTP sends each frame to an inference endpoint.
// The endpoint receives the JPEG as the request body and answers {"score": x}.
type HTTP struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// NewHTTP creates an HTTP classifier posting to url
func NewHTTP(url string, httpClient *http.Client, logger *zap.Logger) *HTTP {
	return &HTTP{url: url, httpClient: httpClient, logger: logger}
}

func (c *HTTP) Name() string {
	return fmt.Sprintf("http (%s)", c.url)
}

func (c *HTTP) Score(ctx context.Context, frame *camera.Frame) (float64, error) {
	if frame == nil || len(frame.Data) == 0 {
		return 0, fmt.Errorf("empty frame")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(frame.Data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("User-Agent", "fieldnode/1.0")
	req.Header.Set("X-Frame-ID", frame.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("inference returned %d: %s", resp.StatusCode, string(body))
	}

	var out scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to parse inference response: %w", err)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("inference response contained no score")
	}
	score := *out.Score
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("inference score %v outside [0,1]", score)
	}

	c.logger.Debug("Frame classified",
		zap.String("frame_id", frame.ID),
		zap.Float64("score", score))

	return score, nil
}
