package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks every configuration problem: unreadable or malformed
// documents, out-of-range values and bad calibration files.
var ErrInvalid = errors.New("invalid configuration")

// Invalidf returns an error wrapping ErrInvalid.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

const (
	DefaultDegreesPerStep   = 10.0
	DefaultCalibrationDir   = "config"
	DefaultTurntableBaseURL = "http://192.168.4.1"
	DefaultOutputDir        = "output"
	DefaultCameraURL        = "http://127.0.0.1:8080/camera/%d/snapshot.jpg"

	SliceFormatJSON = "json"
	SliceFormatPCD  = "pcd"

	CameraSourceHTTP   = "http"
	CameraSourceReplay = "replay"

	LaserDriverManual = "manual"
	LaserDriverSerial = "serial"

	maxFileSize = 1 * 1024 * 1024 // 1MB
)

// DefaultPoses is used when the document does not list any poses.
var DefaultPoses = []string{"low", "mid", "high"}

// SessionConfig is the root document for a scan session. Optional fields are
// pointers; the Get* methods supply defaults for anything left unset, so
// partial documents are safe.
type SessionConfig struct {
	Poses            []string `json:"poses,omitempty" yaml:"poses,omitempty"`
	DegreesPerStep   *float64 `json:"degrees_per_step,omitempty" yaml:"degrees_per_step,omitempty"`
	IntrinsicsDir    *string  `json:"intrinsics_dir,omitempty" yaml:"intrinsics_dir,omitempty"`
	LaserPlanesDir   *string  `json:"laser_planes_dir,omitempty" yaml:"laser_planes_dir,omitempty"`
	TurntableBaseURL *string  `json:"turntable_base_url,omitempty" yaml:"turntable_base_url,omitempty"`
	CameraIndex      *int     `json:"camera_index,omitempty" yaml:"camera_index,omitempty"`

	OutputDir   *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	SliceFormat *string `json:"slice_format,omitempty" yaml:"slice_format,omitempty"`
	LedgerPath  *string `json:"ledger_path,omitempty" yaml:"ledger_path,omitempty"`
	Preview     *bool   `json:"preview,omitempty" yaml:"preview,omitempty"`

	Extractor *ExtractorConfig `json:"extractor,omitempty" yaml:"extractor,omitempty"`
	Sync      *SyncConfig      `json:"sync,omitempty" yaml:"sync,omitempty"`
	Camera    *CameraConfig    `json:"camera,omitempty" yaml:"camera,omitempty"`
	Laser     *LaserConfig     `json:"laser,omitempty" yaml:"laser,omitempty"`
}

// ExtractorConfig tunes laser-line extraction.
type ExtractorConfig struct {
	BlurKernel *int `json:"blur_kernel,omitempty" yaml:"blur_kernel,omitempty"`
	Threshold  *int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// SyncConfig holds turntable timing. Durations are strings like "200ms".
type SyncConfig struct {
	PollInterval *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	Timeout      *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	HTTPTimeout  *string `json:"http_timeout,omitempty" yaml:"http_timeout,omitempty"`
}

// CameraConfig selects and tunes the frame source.
type CameraConfig struct {
	Source      *string `json:"source,omitempty" yaml:"source,omitempty"`
	URL         *string `json:"url,omitempty" yaml:"url,omitempty"`
	ReplayDir   *string `json:"replay_dir,omitempty" yaml:"replay_dir,omitempty"`
	Timeout     *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	JPEGQuality *int    `json:"jpeg_quality,omitempty" yaml:"jpeg_quality,omitempty"`
}

// LaserConfig selects the laser driver. Serial fields are only read when
// Driver is "serial".
type LaserConfig struct {
	Driver     *string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Port       *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty" yaml:"parity,omitempty"`
	OnCommand  *string `json:"on_command,omitempty" yaml:"on_command,omitempty"`
	OffCommand *string `json:"off_command,omitempty" yaml:"off_command,omitempty"`
}

// EmptySessionConfig returns a SessionConfig with every field unset.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// Load reads a SessionConfig from a .json, .yaml or .yml file, then validates it.
func Load(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, Invalidf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, Invalidf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Parse decodes and validates a document. ext picks the decoder.
func Parse(data []byte, ext string) (*SessionConfig, error) {
	cfg := EmptySessionConfig()
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, Invalidf("failed to parse config YAML: %v", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, Invalidf("failed to parse config JSON: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.Poses != nil {
		if len(c.Poses) == 0 {
			return Invalidf("poses must not be empty")
		}
		seen := make(map[string]bool, len(c.Poses))
		for _, p := range c.Poses {
			if strings.TrimSpace(p) == "" {
				return Invalidf("pose identifiers must not be blank")
			}
			if strings.ContainsAny(p, `/\`) || p == "." || p == ".." {
				return Invalidf("pose %q must not contain path separators", p)
			}
			if seen[p] {
				return Invalidf("duplicate pose %q", p)
			}
			seen[p] = true
		}
	}

	if c.DegreesPerStep != nil {
		step := *c.DegreesPerStep
		if math.IsNaN(step) || math.IsInf(step, 0) || step <= 0 {
			return Invalidf("degrees_per_step must be a positive number, got %v", step)
		}
		if !StepResolvable(step) {
			return Invalidf("degrees_per_step must be a multiple of %g degrees so every angle gets its own file, got %v", MinDegreesPerStep, step)
		}
	}

	if c.CameraIndex != nil && *c.CameraIndex < 0 {
		return Invalidf("camera_index must be non-negative, got %d", *c.CameraIndex)
	}

	if c.SliceFormat != nil {
		switch *c.SliceFormat {
		case SliceFormatJSON, SliceFormatPCD:
		default:
			return Invalidf("slice_format must be %q or %q, got %q", SliceFormatJSON, SliceFormatPCD, *c.SliceFormat)
		}
	}

	if err := c.Extractor.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Camera.Validate(); err != nil {
		return err
	}
	return c.Laser.Validate()
}

// GetPoses returns the configured poses or DefaultPoses.
func (c *SessionConfig) GetPoses() []string {
	if len(c.Poses) == 0 {
		return append([]string(nil), DefaultPoses...)
	}
	return append([]string(nil), c.Poses...)
}

// GetDegreesPerStep returns the rotation step or the default of 10 degrees.
func (c *SessionConfig) GetDegreesPerStep() float64 {
	if c.DegreesPerStep == nil {
		return DefaultDegreesPerStep
	}
	return *c.DegreesPerStep
}

// GetIntrinsicsDir returns the intrinsics directory or the default.
func (c *SessionConfig) GetIntrinsicsDir() string {
	return stringOr(c.IntrinsicsDir, DefaultCalibrationDir)
}

// GetLaserPlanesDir returns the laser plane directory or the default.
func (c *SessionConfig) GetLaserPlanesDir() string {
	return stringOr(c.LaserPlanesDir, DefaultCalibrationDir)
}

// GetTurntableBaseURL returns the turntable base URL without a trailing slash.
func (c *SessionConfig) GetTurntableBaseURL() string {
	return strings.TrimRight(stringOr(c.TurntableBaseURL, DefaultTurntableBaseURL), "/")
}

// GetCameraIndex returns the camera index or 0.
func (c *SessionConfig) GetCameraIndex() int {
	if c.CameraIndex == nil {
		return 0
	}
	return *c.CameraIndex
}

// GetOutputDir returns the output root or "output".
func (c *SessionConfig) GetOutputDir() string {
	return stringOr(c.OutputDir, DefaultOutputDir)
}

// GetSliceFormat returns "json" unless "pcd" was requested.
func (c *SessionConfig) GetSliceFormat() string {
	return stringOr(c.SliceFormat, SliceFormatJSON)
}

// GetLedgerPath returns the ledger database path, or "" when disabled.
func (c *SessionConfig) GetLedgerPath() string {
	return stringOr(c.LedgerPath, "")
}

// GetPreview reports whether slice profile PNGs are written.
func (c *SessionConfig) GetPreview() bool {
	return c.Preview != nil && *c.Preview
}

// IntrinsicsPath returns the camera intrinsics file for pose.
func (c *SessionConfig) IntrinsicsPath(pose string) string {
	return filepath.Join(c.GetIntrinsicsDir(), "camera_intrinsics_"+pose+".json")
}

// LaserPlanePath returns the laser plane file for pose.
func (c *SessionConfig) LaserPlanePath(pose string) string {
	return filepath.Join(c.GetLaserPlanesDir(), "laser_plane_"+pose+".json")
}

// Validate checks the extractor section. A nil section is valid.
func (e *ExtractorConfig) Validate() error {
	if e == nil {
		return nil
	}
	if e.BlurKernel != nil {
		k := *e.BlurKernel
		if k <= 0 || k%2 == 0 {
			return Invalidf("extractor.blur_kernel must be a positive odd integer, got %d", k)
		}
	}
	if e.Threshold != nil {
		if t := *e.Threshold; t < 0 || t > 255 {
			return Invalidf("extractor.threshold must be between 0 and 255, got %d", t)
		}
	}
	return nil
}

// GetBlurKernel returns the Gaussian kernel size or 7.
func (e *ExtractorConfig) GetBlurKernel() int {
	if e == nil || e.BlurKernel == nil {
		return 7
	}
	return *e.BlurKernel
}

// GetThreshold returns the brightness threshold or 200.
func (e *ExtractorConfig) GetThreshold() int {
	if e == nil || e.Threshold == nil {
		return 200
	}
	return *e.Threshold
}

// Validate checks that every duration parses and is positive.
func (s *SyncConfig) Validate() error {
	if s == nil {
		return nil
	}
	for name, v := range map[string]*string{
		"sync.poll_interval": s.PollInterval,
		"sync.timeout":       s.Timeout,
		"sync.http_timeout":  s.HTTPTimeout,
	} {
		if err := validateDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

// GetPollInterval returns the idle polling interval or 200ms.
func (s *SyncConfig) GetPollInterval() time.Duration {
	if s == nil {
		return 200 * time.Millisecond
	}
	return durationOr(s.PollInterval, 200*time.Millisecond)
}

// GetTimeout returns the idle wait deadline or 30s.
func (s *SyncConfig) GetTimeout() time.Duration {
	if s == nil {
		return 30 * time.Second
	}
	return durationOr(s.Timeout, 30*time.Second)
}

// GetHTTPTimeout returns the per-request turntable timeout or 5s.
func (s *SyncConfig) GetHTTPTimeout() time.Duration {
	if s == nil {
		return 5 * time.Second
	}
	return durationOr(s.HTTPTimeout, 5*time.Second)
}

// Validate checks the camera section.
func (c *CameraConfig) Validate() error {
	if c == nil {
		return nil
	}
	switch src := c.GetSource(); src {
	case CameraSourceHTTP:
	case CameraSourceReplay:
		if c.GetReplayDir() == "" {
			return Invalidf("camera.replay_dir is required when camera.source is %q", CameraSourceReplay)
		}
	default:
		return Invalidf("camera.source must be %q or %q, got %q", CameraSourceHTTP, CameraSourceReplay, src)
	}
	if err := validateDuration("camera.timeout", c.Timeout); err != nil {
		return err
	}
	if c.JPEGQuality != nil {
		if q := *c.JPEGQuality; q < 1 || q > 100 {
			return Invalidf("camera.jpeg_quality must be between 1 and 100, got %d", q)
		}
	}
	return nil
}

// GetSource returns "http" or "replay".
func (c *CameraConfig) GetSource() string {
	if c == nil {
		return CameraSourceHTTP
	}
	return stringOr(c.Source, CameraSourceHTTP)
}

// SnapshotURL replaces the first %d in the snapshot URL template with the
// camera index. Other percent sequences, such as URL escapes, are kept.
func (c *CameraConfig) SnapshotURL(index int) string {
	tmpl := DefaultCameraURL
	if c != nil {
		tmpl = stringOr(c.URL, DefaultCameraURL)
	}
	return strings.Replace(tmpl, "%d", strconv.Itoa(index), 1)
}

// GetReplayDir returns the directory replayed by the replay source.
func (c *CameraConfig) GetReplayDir() string {
	if c == nil {
		return ""
	}
	return stringOr(c.ReplayDir, "")
}

// GetTimeout returns the per-capture timeout or 5s.
func (c *CameraConfig) GetTimeout() time.Duration {
	if c == nil {
		return 5 * time.Second
	}
	return durationOr(c.Timeout, 5*time.Second)
}

// GetJPEGQuality returns the RGB JPEG quality or 95.
func (c *CameraConfig) GetJPEGQuality() int {
	if c == nil || c.JPEGQuality == nil {
		return 95
	}
	return *c.JPEGQuality
}

// Validate checks the laser section. Serial port parameters are checked
// by the laser package when the port is opened.
func (l *LaserConfig) Validate() error {
	if l == nil {
		return nil
	}
	switch d := l.GetDriver(); d {
	case LaserDriverManual:
	case LaserDriverSerial:
		if l.GetPort() == "" {
			return Invalidf("laser.port is required when laser.driver is %q", LaserDriverSerial)
		}
	default:
		return Invalidf("laser.driver must be %q or %q, got %q", LaserDriverManual, LaserDriverSerial, d)
	}
	return nil
}

// GetDriver returns "manual" or "serial".
func (l *LaserConfig) GetDriver() string {
	if l == nil {
		return LaserDriverManual
	}
	return stringOr(l.Driver, LaserDriverManual)
}

// GetPort returns the serial device path.
func (l *LaserConfig) GetPort() string {
	if l == nil {
		return ""
	}
	return stringOr(l.Port, "")
}

// GetBaudRate returns the configured baud rate, or 0 to use the port default.
func (l *LaserConfig) GetBaudRate() int { return intOr(l, func(l *LaserConfig) *int { return l.BaudRate }) }

// GetDataBits returns the configured data bits, or 0 to use the port default.
func (l *LaserConfig) GetDataBits() int { return intOr(l, func(l *LaserConfig) *int { return l.DataBits }) }

// GetStopBits returns the configured stop bits, or 0 to use the port default.
func (l *LaserConfig) GetStopBits() int { return intOr(l, func(l *LaserConfig) *int { return l.StopBits }) }

// GetParity returns the configured parity letter, or "" to use the port default.
func (l *LaserConfig) GetParity() string {
	if l == nil {
		return ""
	}
	return stringOr(l.Parity, "")
}

// GetOnCommand returns the relay command that turns the laser on.
func (l *LaserConfig) GetOnCommand() string {
	if l == nil {
		return "L1"
	}
	return stringOr(l.OnCommand, "L1")
}

// GetOffCommand returns the relay command that turns the laser off.
func (l *LaserConfig) GetOffCommand() string {
	if l == nil {
		return "L0"
	}
	return stringOr(l.OffCommand, "L0")
}

func intOr(l *LaserConfig, field func(*LaserConfig) *int) int {
	if l == nil {
		return 0
	}
	if v := field(l); v != nil {
		return *v
	}
	return 0
}

func validateDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return Invalidf("invalid %s '%s': %v", name, *v, err)
	}
	if d <= 0 {
		return Invalidf("%s must be positive, got %s", name, *v)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
