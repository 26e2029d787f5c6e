// Package config loads the bridge configuration from a JSON file. Fields
// are pointer-typed so a partial file only overrides what it names; the
// Get* accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BridgeConfig is the root configuration for the bridge.
type BridgeConfig struct {
	// Detection transport
	DetectorAddr    *string `json:"detector_addr,omitempty"`
	CaptureInterval *string `json:"capture_interval,omitempty"` // duration string like "100ms"
	CaptureQuality  *float64 `json:"capture_quality,omitempty"` // JPEG quality (0, 1]

	// Tracking
	TrackedMarkerID    *int     `json:"tracked_marker_id,omitempty"`
	MarkerPhysicalSize *float64 `json:"marker_physical_size,omitempty"` // metres

	// Smoothing / display
	RenderRateHz    *float64 `json:"render_rate_hz,omitempty"`
	SmoothingAlpha  *float64 `json:"smoothing_alpha,omitempty"`
	JitterAmplitude *float64 `json:"jitter_amplitude,omitempty"`
	JitterPeriod    *string  `json:"jitter_period,omitempty"` // duration string like "3s"

	// Persistence
	DatabasePath *string `json:"database_path,omitempty"`
}

// EmptyBridgeConfig returns a BridgeConfig with all fields unset.
func EmptyBridgeConfig() *BridgeConfig {
	return &BridgeConfig{}
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file. The file must have
// a .json extension and stay under the max file size. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBridgeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that any set configuration values are usable.
func (c *BridgeConfig) Validate() error {
	if c.MarkerPhysicalSize != nil && *c.MarkerPhysicalSize <= 0 {
		return fmt.Errorf("marker_physical_size must be positive, got %f", *c.MarkerPhysicalSize)
	}
	if c.SmoothingAlpha != nil {
		if *c.SmoothingAlpha <= 0 || *c.SmoothingAlpha > 1 {
			return fmt.Errorf("smoothing_alpha must be in (0, 1], got %f", *c.SmoothingAlpha)
		}
	}
	if c.RenderRateHz != nil && *c.RenderRateHz <= 0 {
		return fmt.Errorf("render_rate_hz must be positive, got %f", *c.RenderRateHz)
	}
	if c.CaptureQuality != nil {
		if *c.CaptureQuality <= 0 || *c.CaptureQuality > 1 {
			return fmt.Errorf("capture_quality must be in (0, 1], got %f", *c.CaptureQuality)
		}
	}
	if c.JitterPeriod != nil && *c.JitterPeriod != "" {
		if _, err := time.ParseDuration(*c.JitterPeriod); err != nil {
			return fmt.Errorf("invalid jitter_period %q: %w", *c.JitterPeriod, err)
		}
	}
	if c.CaptureInterval != nil && *c.CaptureInterval != "" {
		if _, err := time.ParseDuration(*c.CaptureInterval); err != nil {
			return fmt.Errorf("invalid capture_interval %q: %w", *c.CaptureInterval, err)
		}
	}
	return nil
}

// GetDetectorAddr returns the detection service address or the default.
func (c *BridgeConfig) GetDetectorAddr() string {
	if c.DetectorAddr == nil || *c.DetectorAddr == "" {
		return "127.0.0.1:7160"
	}
	return *c.DetectorAddr
}

// GetCaptureInterval parses and returns the CaptureInterval as a duration.
func (c *BridgeConfig) GetCaptureInterval() time.Duration {
	if c.CaptureInterval == nil || *c.CaptureInterval == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CaptureInterval)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetCaptureQuality returns the JPEG capture quality or the default.
func (c *BridgeConfig) GetCaptureQuality() float64 {
	if c.CaptureQuality == nil {
		return 0.8
	}
	return *c.CaptureQuality
}

// GetTrackedMarkerID returns the tracked marker id or the default.
func (c *BridgeConfig) GetTrackedMarkerID() int {
	if c.TrackedMarkerID == nil {
		return 6
	}
	return *c.TrackedMarkerID
}

// GetMarkerPhysicalSize returns the marker edge length in metres.
func (c *BridgeConfig) GetMarkerPhysicalSize() float64 {
	if c.MarkerPhysicalSize == nil {
		return 0.1
	}
	return *c.MarkerPhysicalSize
}

// GetRenderRate returns the interval between smoother ticks.
func (c *BridgeConfig) GetRenderRate() time.Duration {
	hz := 60.0
	if c.RenderRateHz != nil {
		hz = *c.RenderRateHz
	}
	return time.Duration(float64(time.Second) / hz)
}

// GetSmoothingAlpha returns the per-tick interpolation factor.
func (c *BridgeConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.1
	}
	return *c.SmoothingAlpha
}

// GetJitterAmplitude returns the hover amplitude in scene units.
func (c *BridgeConfig) GetJitterAmplitude() float64 {
	if c.JitterAmplitude == nil {
		return 0.02
	}
	return *c.JitterAmplitude
}

// GetJitterPeriod parses and returns the hover period.
func (c *BridgeConfig) GetJitterPeriod() time.Duration {
	if c.JitterPeriod == nil || *c.JitterPeriod == "" {
		return 3 * time.Second
	}
	d, err := time.ParseDuration(*c.JitterPeriod)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// GetDatabasePath returns the SQLite database path.
func (c *BridgeConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "pose_data.db"
	}
	return *c.DatabasePath
}
