// Package config loads the capture settings shared by the controller, the
// sampler and the serial receiver.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical capture defaults file.
const DefaultConfigPath = "config/capture.defaults.json"

// Defaults applied by the Get* accessors when a field is unset.
const (
	DefaultSampleIntervalSeconds   = 5
	DefaultAccuracyThresholdMeters = 50.0
	DefaultAutoSaveEveryNPoints    = 5
	DefaultSignalTimeout           = 30 * time.Second
	DefaultRetryDelay              = 5 * time.Second
	DefaultDebugSamplePeriod       = time.Second
	DefaultCreator                 = "fieldtripGB"
	DefaultAssetsDir               = "assets"
	DefaultUEREMeters              = 5.0
	DefaultSerialPort              = "/dev/ttyUSB0"
	DefaultSerialBaudRate          = 9600
)

// CaptureConfig is the root configuration for track capture. Every field is
// optional; omitted fields fall back to the defaults above, so partial files
// are safe.
type CaptureConfig struct {
	// Admission
	SampleIntervalSeconds   *float64 `json:"sample_interval_seconds,omitempty"`
	AccuracyThresholdMeters *float64 `json:"accuracy_threshold_meters,omitempty"`

	// Persistence
	AutoSaveEveryNPoints *int    `json:"auto_save_every_n_points,omitempty"`
	Creator              *string `json:"creator,omitempty"`
	AssetsDir            *string `json:"assets_dir,omitempty"`

	// Sampling
	DebugMode         *bool   `json:"debug_mode,omitempty"`
	HighAccuracy      *bool   `json:"high_accuracy,omitempty"`
	SignalTimeout     *string `json:"signal_timeout,omitempty"`      // duration string like "30s"
	RetryDelay        *string `json:"retry_delay,omitempty"`         // duration string like "5s"
	DebugSamplePeriod *string `json:"debug_sample_period,omitempty"` // duration string like "1s"

	// Receiver
	UEREMeters *float64      `json:"uere_meters,omitempty"`
	SerialPort *string       `json:"serial_port,omitempty"`
	Serial     *SerialConfig `json:"serial,omitempty"`
}

// SerialConfig holds the line settings of the GPS receiver.
type SerialConfig struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyCaptureConfig returns a CaptureConfig with all fields unset.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// DefaultCaptureConfig returns a CaptureConfig with every field populated
// from the built-in defaults.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		SampleIntervalSeconds:   ptrFloat64(DefaultSampleIntervalSeconds),
		AccuracyThresholdMeters: ptrFloat64(DefaultAccuracyThresholdMeters),
		AutoSaveEveryNPoints:    ptrInt(DefaultAutoSaveEveryNPoints),
		Creator:                 ptrString(DefaultCreator),
		AssetsDir:               ptrString(DefaultAssetsDir),
		DebugMode:               ptrBool(false),
		HighAccuracy:            ptrBool(true),
		SignalTimeout:           ptrString(DefaultSignalTimeout.String()),
		RetryDelay:              ptrString(DefaultRetryDelay.String()),
		DebugSamplePeriod:       ptrString(DefaultDebugSamplePeriod.String()),
		UEREMeters:              ptrFloat64(DefaultUEREMeters),
		SerialPort:              ptrString(DefaultSerialPort),
		Serial: &SerialConfig{
			BaudRate: DefaultSerialBaudRate,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		},
	}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
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

	cfg := EmptyCaptureConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.SampleIntervalSeconds != nil && *c.SampleIntervalSeconds < 0 {
		return fmt.Errorf("sample_interval_seconds must be non-negative, got %f", *c.SampleIntervalSeconds)
	}
	if c.AccuracyThresholdMeters != nil && *c.AccuracyThresholdMeters <= 0 {
		return fmt.Errorf("accuracy_threshold_meters must be positive, got %f", *c.AccuracyThresholdMeters)
	}
	if c.AutoSaveEveryNPoints != nil && *c.AutoSaveEveryNPoints < 1 {
		return fmt.Errorf("auto_save_every_n_points must be at least 1, got %d", *c.AutoSaveEveryNPoints)
	}
	if c.UEREMeters != nil && *c.UEREMeters <= 0 {
		return fmt.Errorf("uere_meters must be positive, got %f", *c.UEREMeters)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"signal_timeout", c.SignalTimeout},
		{"retry_delay", c.RetryDelay},
		{"debug_sample_period", c.DebugSamplePeriod},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.Serial != nil {
		if c.Serial.BaudRate < 0 {
			return fmt.Errorf("serial.baud_rate must be non-negative, got %d", c.Serial.BaudRate)
		}
	}

	return nil
}

// GetSampleInterval returns the minimum spacing between accepted samples.
func (c *CaptureConfig) GetSampleInterval() time.Duration {
	if c.SampleIntervalSeconds == nil {
		return DefaultSampleIntervalSeconds * time.Second
	}
	return time.Duration(*c.SampleIntervalSeconds * float64(time.Second))
}

// GetSampleIntervalSeconds returns the raw sample interval in seconds.
func (c *CaptureConfig) GetSampleIntervalSeconds() float64 {
	if c.SampleIntervalSeconds == nil {
		return DefaultSampleIntervalSeconds
	}
	return *c.SampleIntervalSeconds
}

// GetAccuracyThresholdMeters returns the accuracy_threshold_meters value or the default.
func (c *CaptureConfig) GetAccuracyThresholdMeters() float64 {
	if c.AccuracyThresholdMeters == nil {
		return DefaultAccuracyThresholdMeters
	}
	return *c.AccuracyThresholdMeters
}

// GetAutoSaveEveryNPoints returns the auto_save_every_n_points value or the default.
func (c *CaptureConfig) GetAutoSaveEveryNPoints() int {
	if c.AutoSaveEveryNPoints == nil {
		return DefaultAutoSaveEveryNPoints
	}
	return *c.AutoSaveEveryNPoints
}

// GetCreator returns the GPX creator attribute.
func (c *CaptureConfig) GetCreator() string {
	if c.Creator == nil || *c.Creator == "" {
		return DefaultCreator
	}
	return *c.Creator
}

// GetAssetsDir returns the directory GPX files are written to.
func (c *CaptureConfig) GetAssetsDir() string {
	if c.AssetsDir == nil || *c.AssetsDir == "" {
		return DefaultAssetsDir
	}
	return *c.AssetsDir
}

// GetDebugMode returns the debug_mode value or the default.
func (c *CaptureConfig) GetDebugMode() bool {
	if c.DebugMode == nil {
		return false
	}
	return *c.DebugMode
}

// GetHighAccuracy returns the high_accuracy value or the default.
func (c *CaptureConfig) GetHighAccuracy() bool {
	if c.HighAccuracy == nil {
		return true
	}
	return *c.HighAccuracy
}

// GetSignalTimeout returns how long a subscription waits for a fix.
func (c *CaptureConfig) GetSignalTimeout() time.Duration {
	return parseDurationOr(c.SignalTimeout, DefaultSignalTimeout)
}

// GetRetryDelay returns the pause before re-subscribing after signal loss.
func (c *CaptureConfig) GetRetryDelay() time.Duration {
	return parseDurationOr(c.RetryDelay, DefaultRetryDelay)
}

// GetDebugSamplePeriod returns the synthetic sample period in debug mode.
func (c *CaptureConfig) GetDebugSamplePeriod() time.Duration {
	return parseDurationOr(c.DebugSamplePeriod, DefaultDebugSamplePeriod)
}

// GetUEREMeters returns the user equivalent range error used to turn HDOP
// into metres.
func (c *CaptureConfig) GetUEREMeters() float64 {
	if c.UEREMeters == nil {
		return DefaultUEREMeters
	}
	return *c.UEREMeters
}

// GetSerialPort returns the device path of the GPS receiver.
func (c *CaptureConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetSerial returns the receiver line settings. Zero fields are left for the
// serial layer to normalise, except the baud rate which defaults to 9600.
func (c *CaptureConfig) GetSerial() SerialConfig {
	if c.Serial == nil {
		return SerialConfig{BaudRate: DefaultSerialBaudRate}
	}
	s := *c.Serial
	if s.BaudRate == 0 {
		s.BaudRate = DefaultSerialBaudRate
	}
	return s
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}
