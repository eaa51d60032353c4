// Package detector counts objects of interest in a frame.
package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AndriyKy/spot-gazer/internal/logger"
)

// DefaultClasses are counted when no classes are configured
var DefaultClasses = []string{"car"}

// Detector returns the number of objects of interest in img. Implementations
// must be safe for concurrent use by several stream workers.
type Detector interface {
	Count(ctx context.Context, img image.Image) (int, error)
}

// Config contains configuration for the HTTP detector
type Config struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	EnabledClasses      []string
	JPEGQuality         int
}

// HTTPDetector delegates inference to an HTTP model service
type HTTPDetector struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	confidence float64
	classes    map[string]struct{}
	classList  []string
	quality    int
}

// NewHTTPDetector creates a new HTTP detector
func NewHTTPDetector(config Config, log *logger.Logger) *HTTPDetector {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if len(config.EnabledClasses) == 0 {
		config.EnabledClasses = DefaultClasses
	}
	if config.JPEGQuality <= 0 || config.JPEGQuality > 100 {
		config.JPEGQuality = 90
	}

	classes := make(map[string]struct{}, len(config.EnabledClasses))
	for _, c := range config.EnabledClasses {
		classes[strings.ToLower(c)] = struct{}{}
	}

	return &HTTPDetector{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:     log.Named("detector"),
		confidence: config.ConfidenceThreshold,
		classes:    classes,
		classList:  config.EnabledClasses,
		quality:    config.JPEGQuality,
	}
}

// Count runs inference on img and counts boxes of enabled classes at or
// above the confidence threshold
func (d *HTTPDetector) Count(ctx context.Context, img image.Image) (int, error) {
	resp, err := d.Infer(ctx, img)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, box := range resp.BoundingBoxes {
		if _, ok := d.classes[strings.ToLower(box.ClassName)]; !ok {
			continue
		}
		if box.Confidence < d.confidence {
			continue
		}
		count++
	}
	return count, nil
}

// Infer performs inference on a single image
func (d *HTTPDetector) Infer(ctx context.Context, img image.Image) (*InferenceResponse, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req := InferenceRequest{
		Image:          base64.StdEncoding.EncodeToString(buf.Bytes()),
		EnabledClasses: d.classList,
	}
	if d.confidence > 0 {
		confidence := d.confidence
		req.ConfidenceThreshold = &confidence
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/inference", d.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("Inference service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var inferenceResp InferenceResponse
	if err := json.Unmarshal(body, &inferenceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	d.logger.Debug("Inference completed",
		"detection_count", inferenceResp.DetectionCount,
		"inference_time_ms", inferenceResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &inferenceResp, nil
}

// HealthCheck checks if the inference service is ready
func (d *HTTPDetector) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", d.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check failed: status %d", resp.StatusCode)
	}

	return nil
}
