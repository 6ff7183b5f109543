// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/Tutortoise/parking-occupancy-service/detections"
	"github.com/Tutortoise/parking-occupancy-service/logger"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Vehicles VehiclesConfig `yaml:"vehicles"`
	Regions  RegionsConfig  `yaml:"regions"`
	Video    VideoConfig    `yaml:"video"`
	Log      LogConfig      `yaml:"log"`
	Overlay  OverlayConfig  `yaml:"overlay"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ModelConfig describes the ONNX detector. An empty Path runs the service
// without a detector: regions can be edited but frames are rejected.
type ModelConfig struct {
	Path          string   `yaml:"path"`
	SharedLibrary string   `yaml:"shared_library"`
	PoolSize      int      `yaml:"pool_size"`
	InputSize     int      `yaml:"input_size"`
	ConfThreshold float32  `yaml:"conf_threshold"`
	IouThreshold  float64  `yaml:"iou_threshold"`
	ClassNames    []string `yaml:"class_names"`
}

type VehiclesConfig struct {
	Labels []string `yaml:"labels"`
}

type RegionsConfig struct {
	Path string `yaml:"path"`
}

// VideoConfig is the optional background video loop. Source is a file, a
// stream URL or a numeric camera id; empty disables the loop. FPS zero uses
// the rate reported by the source.
type VideoConfig struct {
	Source string  `yaml:"source"`
	FPS    float64 `yaml:"fps"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// OverlayConfig styles the preview image. Colours are hex triplets.
type OverlayConfig struct {
	FreeColor     string  `yaml:"free_color"`
	OccupiedColor string  `yaml:"occupied_color"`
	VehicleColor  string  `yaml:"vehicle_color"`
	Alpha         float64 `yaml:"alpha"`
}

// Colors returns the free, occupied and vehicle colours.
func (o OverlayConfig) Colors() (free, occupied, vehicle color.RGBA, err error) {
	if free, err = hexColor("overlay.free_color", o.FreeColor); err != nil {
		return
	}
	if occupied, err = hexColor("overlay.occupied_color", o.OccupiedColor); err != nil {
		return
	}
	vehicle, err = hexColor("overlay.vehicle_color", o.VehicleColor)
	return
}

func hexColor(field, s string) (color.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%s: %w", field, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Model: ModelConfig{
			PoolSize:      detections.DefaultPoolSize,
			InputSize:     detections.DefaultInputSize,
			ConfThreshold: detections.DefaultConfThreshold,
			IouThreshold:  detections.DefaultIouThreshold,
		},
		Vehicles: VehiclesConfig{
			Labels: append([]string(nil), detections.DefaultVehicleLabels...),
		},
		Regions: RegionsConfig{
			Path: "bounding_boxes.json",
		},
		Log: LogConfig{
			Level: "info",
		},
		Overlay: OverlayConfig{
			FreeColor:     "#00ff00",
			OccupiedColor: "#ff0000",
			VehicleColor:  "#00ff00",
			Alpha:         0.3,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate clamps out-of-range values back to defaults and rejects settings
// the service cannot run with.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}

	if c.Model.PoolSize <= 0 {
		c.Model.PoolSize = def.Model.PoolSize
	}
	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		c.Model.InputSize = def.Model.InputSize
	}
	if c.Model.ConfThreshold <= 0 || c.Model.ConfThreshold >= 1 {
		c.Model.ConfThreshold = def.Model.ConfThreshold
	}
	if c.Model.IouThreshold <= 0 || c.Model.IouThreshold >= 1 {
		c.Model.IouThreshold = def.Model.IouThreshold
	}

	if len(c.Vehicles.Labels) == 0 {
		c.Vehicles.Labels = def.Vehicles.Labels
	}
	if c.Regions.Path == "" {
		return errors.New("regions.path must not be empty")
	}
	if c.Video.FPS < 0 {
		c.Video.FPS = 0
	}
	if c.Video.Source != "" && c.Model.Path == "" {
		return errors.New("video.source requires model.path")
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Overlay.FreeColor == "" {
		c.Overlay.FreeColor = def.Overlay.FreeColor
	}
	if c.Overlay.OccupiedColor == "" {
		c.Overlay.OccupiedColor = def.Overlay.OccupiedColor
	}
	if c.Overlay.VehicleColor == "" {
		c.Overlay.VehicleColor = def.Overlay.VehicleColor
	}
	if c.Overlay.Alpha <= 0 || c.Overlay.Alpha > 1 {
		c.Overlay.Alpha = def.Overlay.Alpha
	}
	if _, _, _, err := c.Overlay.Colors(); err != nil {
		return err
	}
	return nil
}

// FrameInterval is the pacing of the video loop; zero means use the source
// rate.
func (v VideoConfig) FrameInterval() time.Duration {
	if v.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / v.FPS)
}
