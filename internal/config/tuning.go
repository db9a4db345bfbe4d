// Package config loads the counter's tuning configuration: the virtual
// line, the required crossing direction, and the tracker/counter
// thresholds. Configuration is loaded once at startup and immutable
// thereafter; validation failures are fatal before the pipeline begins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gatesense/footfall/internal/vision"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/counter.defaults.json"

// TuningConfig is the root tuning document. All fields are optional
// pointers; omitted fields fall back to the defaults baked into the Get*
// accessors, so partial configs are safe.
type TuningConfig struct {
	// Virtual line: two endpoints in frame coordinates plus the required
	// crossing direction. The line is directed A→B; direction semantics
	// are relative to that orientation.
	LineX1            *float64 `json:"line_x1,omitempty"`
	LineY1            *float64 `json:"line_y1,omitempty"`
	LineX2            *float64 `json:"line_x2,omitempty"`
	LineY2            *float64 `json:"line_y2,omitempty"`
	RequiredDirection *string  `json:"required_direction,omitempty"`

	// Tracker params
	MaxAssociationCost     *float64 `json:"max_association_cost,omitempty"`
	MaxCentroidDistancePx  *float64 `json:"max_centroid_distance_px,omitempty"`
	HitsToConfirm          *int     `json:"hits_to_confirm,omitempty"`
	MaxMisses              *int     `json:"max_misses,omitempty"`
	MaxAgeWithoutDetection *int     `json:"max_age_without_detection,omitempty"`
	ExitTimeout            *string  `json:"exit_timeout,omitempty"` // duration string like "10s"
	TrajectoryLength       *int     `json:"trajectory_length,omitempty"`
	MaxTracks              *int     `json:"max_tracks,omitempty"`

	// Pipeline params
	MaxTickRate *float64 `json:"max_tick_rate,omitempty"` // frames/sec, 0 = unlimited

	// Counter/sink params
	SinkMaxRetries   *int    `json:"sink_max_retries,omitempty"`
	SinkRetryBackoff *string `json:"sink_retry_backoff,omitempty"` // duration string like "250ms"

	// Export params
	AutoExportInterval *string `json:"auto_export_interval,omitempty"` // duration string like "5m"
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must
// carry a .json extension and the file must be under the size cap.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching upward from the working directory. Panics
// if the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/track/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration. A degenerate virtual line or an
// unknown direction is rejected here, before the pipeline starts.
func (c *TuningConfig) Validate() error {
	a, b := c.GetLineA(), c.GetLineB()
	if a.X == b.X && a.Y == b.Y {
		return fmt.Errorf("virtual line is degenerate: both endpoints at (%.1f, %.1f)", a.X, a.Y)
	}

	if c.RequiredDirection != nil {
		if _, err := vision.ParseDirection(*c.RequiredDirection); err != nil {
			return err
		}
	}

	if c.MaxAssociationCost != nil && (*c.MaxAssociationCost <= 0 || *c.MaxAssociationCost > 1) {
		return fmt.Errorf("max_association_cost must be in (0,1], got %f", *c.MaxAssociationCost)
	}
	if c.MaxCentroidDistancePx != nil && *c.MaxCentroidDistancePx <= 0 {
		return fmt.Errorf("max_centroid_distance_px must be positive, got %f", *c.MaxCentroidDistancePx)
	}
	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}
	if c.MaxMisses != nil && *c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be at least 1, got %d", *c.MaxMisses)
	}
	if c.MaxAgeWithoutDetection != nil && *c.MaxAgeWithoutDetection < 1 {
		return fmt.Errorf("max_age_without_detection must be at least 1, got %d", *c.MaxAgeWithoutDetection)
	}
	if c.TrajectoryLength != nil && *c.TrajectoryLength < 2 {
		return fmt.Errorf("trajectory_length must be at least 2, got %d", *c.TrajectoryLength)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if c.MaxTickRate != nil && *c.MaxTickRate < 0 {
		return fmt.Errorf("max_tick_rate must be non-negative, got %f", *c.MaxTickRate)
	}
	if c.SinkMaxRetries != nil && *c.SinkMaxRetries < 0 {
		return fmt.Errorf("sink_max_retries must be non-negative, got %d", *c.SinkMaxRetries)
	}

	for name, v := range map[string]*string{
		"exit_timeout":         c.ExitTimeout,
		"sink_retry_backoff":   c.SinkRetryBackoff,
		"auto_export_interval": c.AutoExportInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetLineA returns the counting line's first endpoint. The default places
// a vertical line mid-frame for a 640x480 capture.
func (c *TuningConfig) GetLineA() vision.Point {
	p := vision.Point{X: 320, Y: 0}
	if c.LineX1 != nil {
		p.X = *c.LineX1
	}
	if c.LineY1 != nil {
		p.Y = *c.LineY1
	}
	return p
}

// GetLineB returns the counting line's second endpoint.
func (c *TuningConfig) GetLineB() vision.Point {
	p := vision.Point{X: 320, Y: 480}
	if c.LineX2 != nil {
		p.X = *c.LineX2
	}
	if c.LineY2 != nil {
		p.Y = *c.LineY2
	}
	return p
}

// GetRequiredDirection returns the direction filter applied to crossings.
// Only crossings in this direction increment the count.
func (c *TuningConfig) GetRequiredDirection() vision.Direction {
	if c.RequiredDirection == nil {
		return vision.DirectionRightToLeft
	}
	d, err := vision.ParseDirection(*c.RequiredDirection)
	if err != nil {
		return vision.DirectionRightToLeft
	}
	return d
}

// GetMaxAssociationCost returns the gating threshold on the 1-IoU
// association cost. Pairs above it are never matched.
func (c *TuningConfig) GetMaxAssociationCost() float64 {
	if c.MaxAssociationCost == nil {
		return 0.7
	}
	return *c.MaxAssociationCost
}

// GetMaxCentroidDistancePx returns the centroid-distance gate used when a
// box pair has no usable overlap area.
func (c *TuningConfig) GetMaxCentroidDistancePx() float64 {
	if c.MaxCentroidDistancePx == nil {
		return 50
	}
	return *c.MaxCentroidDistancePx
}

// GetHitsToConfirm returns the consecutive matches needed to promote a
// tentative track to confirmed.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxMisses returns the consecutive misses before a track goes lost.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 8
	}
	return *c.MaxMisses
}

// GetMaxAgeWithoutDetection returns the total unmatched frames before a
// lost track is terminated and evicted.
func (c *TuningConfig) GetMaxAgeWithoutDetection() int {
	if c.MaxAgeWithoutDetection == nil {
		return 40
	}
	return *c.MaxAgeWithoutDetection
}

// GetExitTimeout returns the wall-clock timeout after which an unseen
// track is terminated regardless of its frame-miss budget.
func (c *TuningConfig) GetExitTimeout() time.Duration {
	if c.ExitTimeout == nil || *c.ExitTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.ExitTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetTrajectoryLength returns the per-track trajectory buffer capacity.
func (c *TuningConfig) GetTrajectoryLength() int {
	if c.TrajectoryLength == nil {
		return 32
	}
	return *c.TrajectoryLength
}

// GetMaxTracks returns the cap on concurrent tracks.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 64
	}
	return *c.MaxTracks
}

// GetMaxTickRate returns the pipeline tick-rate cap in frames per second.
// Zero means process every frame.
func (c *TuningConfig) GetMaxTickRate() float64 {
	if c.MaxTickRate == nil {
		return 0
	}
	return *c.MaxTickRate
}

// GetSinkMaxRetries returns the bounded retry budget for failed sink
// writes.
func (c *TuningConfig) GetSinkMaxRetries() int {
	if c.SinkMaxRetries == nil {
		return 3
	}
	return *c.SinkMaxRetries
}

// GetSinkRetryBackoff returns the delay between sink retry attempts.
func (c *TuningConfig) GetSinkRetryBackoff() time.Duration {
	if c.SinkRetryBackoff == nil || *c.SinkRetryBackoff == "" {
		return 250 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SinkRetryBackoff)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// GetAutoExportInterval returns the cadence of the periodic CSV export.
func (c *TuningConfig) GetAutoExportInterval() time.Duration {
	if c.AutoExportInterval == nil || *c.AutoExportInterval == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(*c.AutoExportInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
