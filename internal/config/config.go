package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/detailseg/pkg/analyzer"
	"github.com/menta2k/detailseg/pkg/cropper"
	"github.com/menta2k/detailseg/pkg/detection"
	"github.com/menta2k/detailseg/pkg/merger"
	"github.com/menta2k/detailseg/pkg/regions"
	"github.com/menta2k/detailseg/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Analyzer AnalyzerConfig `json:"analyzer" yaml:"analyzer"`
	Regions  RegionsConfig  `json:"regions" yaml:"regions"`
	Cropper  CropperConfig  `json:"cropper" yaml:"cropper"`
	Merger   MergerConfig   `json:"merger" yaml:"merger"`
	Output   OutputConfig   `json:"output" yaml:"output"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Vision   VisionConfig   `json:"vision" yaml:"vision"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// AnalyzerConfig holds the row classifier thresholds
type AnalyzerConfig struct {
	MeanThreshold      float64 `json:"mean_threshold" yaml:"mean_threshold"`
	DarkThreshold      float64 `json:"dark_threshold" yaml:"dark_threshold"`
	DarkThresholdCount int     `json:"dark_threshold_count" yaml:"dark_threshold_count"`
	LogThreshold       float64 `json:"log_threshold" yaml:"log_threshold"`
	EdgeTrim           int     `json:"edge_trim" yaml:"edge_trim"`
	MinDiffSamples     int     `json:"min_diff_samples" yaml:"min_diff_samples"`
	MaxDiffSamples     int     `json:"max_diff_samples" yaml:"max_diff_samples"`
}

// RegionsConfig holds region consolidation settings
type RegionsConfig struct {
	MinContentHeight int `json:"min_content_height" yaml:"min_content_height"`
	MinWhiteGap      int `json:"min_white_gap" yaml:"min_white_gap"`
	Padding          int `json:"padding" yaml:"padding"`
}

// CropperConfig holds segment classification settings
type CropperConfig struct {
	TextBannerAspectRatio float64 `json:"text_banner_aspect_ratio" yaml:"text_banner_aspect_ratio"`
}

// MergerConfig holds text merge settings
type MergerConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	MinFragmentHeight int  `json:"min_fragment_height" yaml:"min_fragment_height"`
	MinMergeHeight    int  `json:"min_merge_height" yaml:"min_merge_height"`
	TargetLongestEdge int  `json:"target_longest_edge" yaml:"target_longest_edge"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	Format   string `json:"format" yaml:"format"`
	Quality  int    `json:"quality" yaml:"quality"`
	Lossless bool   `json:"lossless" yaml:"lossless"`
	// SaveWhole keeps the unsegmented detail image next to its fragments.
	SaveWhole bool `json:"save_whole" yaml:"save_whole"`
}

// FetchConfig holds image download settings
type FetchConfig struct {
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`
	Workers        int     `json:"workers" yaml:"workers"`
	UserAgent      string  `json:"user_agent" yaml:"user_agent"`
}

// PipelineConfig holds batch concurrency settings
type PipelineConfig struct {
	SegmentWorkers int `json:"segment_workers" yaml:"segment_workers"`
}

// VisionConfig holds the optional model verification settings
type VisionConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Backend        string  `json:"backend" yaml:"backend"`
	URL            string  `json:"url" yaml:"url"`
	Model          string  `json:"model" yaml:"model"`
	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence"`
	// TimeoutSeconds bounds one model answer.
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	a := analyzer.DefaultConfig()
	r := regions.DefaultConfig()
	m := merger.DefaultConfig()

	return &Config{
		Analyzer: AnalyzerConfig{
			MeanThreshold:      a.MeanThreshold,
			DarkThreshold:      a.DarkThreshold,
			DarkThresholdCount: a.DarkThresholdCount,
			LogThreshold:       a.LogThreshold,
			EdgeTrim:           a.EdgeTrim,
			MinDiffSamples:     a.MinDiffSamples,
			MaxDiffSamples:     a.MaxDiffSamples,
		},
		Regions: RegionsConfig{
			MinContentHeight: r.MinContentHeight,
			MinWhiteGap:      r.MinWhiteGap,
			Padding:          r.Padding,
		},
		Cropper: CropperConfig{
			TextBannerAspectRatio: cropper.DefaultConfig().TextBannerRatio,
		},
		Merger: MergerConfig{
			Enabled:           true,
			MinFragmentHeight: m.MinFragmentHeight,
			MinMergeHeight:    m.MinMergeHeight,
			TargetLongestEdge: m.TargetLongestEdge,
		},
		Output: OutputConfig{
			Dir:       "./output",
			Format:    "jpg",
			Quality:   95,
			SaveWhole: true,
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 20,
			Workers:        4,
		},
		Pipeline: PipelineConfig{
			SegmentWorkers: 2,
		},
		Vision: VisionConfig{
			Enabled:        false,
			Backend:        "ollama",
			URL:            "http://localhost:11434",
			Model:          "qwen2.5vl:7b",
			MinConfidence:  0.7,
			TimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file. Keys missing
// from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as JSON, or YAML for .yaml/.yml names
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Analyzer.MeanThreshold < 0 || c.Analyzer.MeanThreshold > 255 {
		return fmt.Errorf("analyzer.mean_threshold must be between 0 and 255")
	}
	if c.Analyzer.DarkThreshold < 0 || c.Analyzer.DarkThreshold > 255 {
		return fmt.Errorf("analyzer.dark_threshold must be between 0 and 255")
	}
	if c.Analyzer.DarkThresholdCount < 0 {
		return fmt.Errorf("analyzer.dark_threshold_count cannot be negative")
	}
	if c.Analyzer.LogThreshold <= 0 {
		return fmt.Errorf("analyzer.log_threshold must be positive")
	}
	if c.Analyzer.EdgeTrim < 0 {
		return fmt.Errorf("analyzer.edge_trim cannot be negative")
	}
	if c.Analyzer.MinDiffSamples < 1 || c.Analyzer.MaxDiffSamples < 1 {
		return fmt.Errorf("analyzer diff sample counts must be positive")
	}

	if c.Regions.MinContentHeight < 1 {
		return fmt.Errorf("regions.min_content_height must be positive")
	}
	if c.Regions.MinWhiteGap < 0 {
		return fmt.Errorf("regions.min_white_gap cannot be negative")
	}
	if c.Regions.Padding < 0 {
		return fmt.Errorf("regions.padding cannot be negative")
	}

	if c.Cropper.TextBannerAspectRatio <= 0 {
		return fmt.Errorf("cropper.text_banner_aspect_ratio must be positive")
	}

	if c.Merger.MinFragmentHeight < 0 || c.Merger.MinMergeHeight < 0 || c.Merger.TargetLongestEdge < 0 {
		return fmt.Errorf("merger heights cannot be negative")
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp, got %q", c.Output.Format)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}

	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive")
	}
	if c.Fetch.Workers < 1 {
		return fmt.Errorf("fetch.workers must be at least 1")
	}
	if c.Pipeline.SegmentWorkers < 1 {
		return fmt.Errorf("pipeline.segment_workers must be at least 1")
	}

	if c.Vision.Enabled {
		switch c.Vision.Backend {
		case "ollama", "llamacpp":
		default:
			return fmt.Errorf("vision.backend must be ollama or llamacpp, got %q", c.Vision.Backend)
		}
		if c.Vision.Model == "" {
			return fmt.Errorf("vision.model is required when vision is enabled")
		}
		if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
			return fmt.Errorf("vision.min_confidence must be between 0 and 1")
		}
		if c.Vision.TimeoutSeconds <= 0 {
			return fmt.Errorf("vision.timeout_seconds must be positive")
		}
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// AnalyzerSettings converts the analyzer section
func (c *Config) AnalyzerSettings() analyzer.Config {
	return analyzer.Config{
		MeanThreshold:      c.Analyzer.MeanThreshold,
		DarkThreshold:      c.Analyzer.DarkThreshold,
		DarkThresholdCount: c.Analyzer.DarkThresholdCount,
		LogThreshold:       c.Analyzer.LogThreshold,
		EdgeTrim:           c.Analyzer.EdgeTrim,
		MinDiffSamples:     c.Analyzer.MinDiffSamples,
		MaxDiffSamples:     c.Analyzer.MaxDiffSamples,
	}
}

// RegionsSettings converts the regions section
func (c *Config) RegionsSettings() regions.Config {
	return regions.Config{
		MinContentHeight: c.Regions.MinContentHeight,
		MinWhiteGap:      c.Regions.MinWhiteGap,
		Padding:          c.Regions.Padding,
	}
}

// CropperSettings converts the cropper section
func (c *Config) CropperSettings() cropper.CropConfig {
	return cropper.CropConfig{TextBannerRatio: c.Cropper.TextBannerAspectRatio}
}

// MergerSettings converts the merger section
func (c *Config) MergerSettings() merger.Config {
	return merger.Config{
		MinFragmentHeight: c.Merger.MinFragmentHeight,
		MinMergeHeight:    c.Merger.MinMergeHeight,
		TargetLongestEdge: c.Merger.TargetLongestEdge,
	}
}

// StorageOptions converts the output section
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Format:   c.Output.Format,
		Quality:  c.Output.Quality,
		Lossless: c.Output.Lossless,
	}
}

// DetectionSettings converts the vision section
func (c *Config) DetectionSettings() detection.Config {
	return detection.Config{
		Model:         c.Vision.Model,
		MinConfidence: c.Vision.MinConfidence,
	}
}

// VisionTimeout returns the per-answer model timeout
func (c *Config) VisionTimeout() time.Duration {
	return time.Duration(c.Vision.TimeoutSeconds * float64(time.Second))
}

// FetchTimeout returns the per-image download timeout
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds * float64(time.Second))
}

// NewLogger builds the slog logger described by the logging section.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", s)
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "detailseg", "config.json")
}
