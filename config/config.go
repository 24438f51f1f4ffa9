// Package config loads the application configuration from a YAML file, a
// .env file and POSEPUPPET_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides
const EnvPrefix = "POSEPUPPET_"

// Config is the complete application configuration
type Config struct {
	// InstanceID names this instance in MQTT topics
	InstanceID string          `yaml:"instance_id" validate:"required,excludesall=/+#"`
	Camera     CameraConfig    `yaml:"camera"`
	Estimator  EstimatorConfig `yaml:"estimator"`
	Smoothing  SmoothingConfig `yaml:"smoothing"`
	Skeleton   SkeletonConfig  `yaml:"skeleton"`
	Tracking   TrackingConfig  `yaml:"tracking"`
	Render     RenderConfig    `yaml:"render"`
	Stream     StreamConfig    `yaml:"stream"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	WebSocket  WebSocketConfig `yaml:"websocket"`
	Log        LogConfig       `yaml:"log"`
}

// CameraConfig contains the video source settings
type CameraConfig struct {
	// Device is a camera index, video file or stream URL
	Device string  `yaml:"device" validate:"required"`
	Width  int     `yaml:"width" validate:"gte=0"`
	Height int     `yaml:"height" validate:"gte=0"`
	FPS    float64 `yaml:"fps" validate:"gte=0"`
}

// EstimatorConfig selects and configures the pose estimation backend
type EstimatorConfig struct {
	// Backend is one of dnn, worker or replay
	Backend string `yaml:"backend" validate:"oneof=dnn worker replay"`
	// Model is the ONNX model of the dnn backend
	Model     string `yaml:"model" validate:"required_if=Backend dnn"`
	InputSize int    `yaml:"input_size" validate:"gte=32"`
	// NetBackend and NetTarget select the OpenCV DNN device
	NetBackend string `yaml:"net_backend"`
	NetTarget  string `yaml:"net_target"`
	// PoolSize is the number of dnn instances run in parallel
	PoolSize int `yaml:"pool_size" validate:"gte=1,lte=16"`
	// Command and Args start the worker backend program
	Command  string   `yaml:"command" validate:"required_if=Backend worker"`
	Args     []string `yaml:"args"`
	Encoding string   `yaml:"encoding" validate:"oneof=jpeg raw"`
	// Push delivers worker results by subscription instead of per call
	Push bool `yaml:"push"`
	// Replay is the YAML pose recording of the replay backend
	Replay string `yaml:"replay" validate:"required_if=Backend replay"`

	Decoding       string  `yaml:"decoding" validate:"oneof=single multi"`
	FlipHorizontal bool    `yaml:"flip_horizontal"`
	MaxDetections  int     `yaml:"max_detections" validate:"gte=1"`
	ScoreThreshold float64 `yaml:"score_threshold" validate:"gte=0,lte=1"`
	NMSRadius      float64 `yaml:"nms_radius" validate:"gte=0"`
	// MaxRate caps detections per second, zero is unlimited
	MaxRate float64 `yaml:"max_rate" validate:"gte=0"`
	// Timeout bounds a single estimator call, zero waits indefinitely
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// CPUs pins the process to a CPU list, eg: 4-7 for the fast cores of a
	// big.LITTLE board.  Empty leaves the affinity unchanged
	CPUs string `yaml:"cpus"`
}

// SmoothingConfig selects the keypoint filter
type SmoothingConfig struct {
	// Filter is one of exponential, kalman or none
	Filter string  `yaml:"filter" validate:"oneof=exponential kalman none"`
	Factor float64 `yaml:"factor" validate:"gte=0,lt=1"`
	// GateBelow skips keypoint updates below this score, zero disables
	GateBelow        float64 `yaml:"gate_below" validate:"gte=0,lte=1"`
	ProcessNoise     float64 `yaml:"process_noise" validate:"gt=0"`
	MeasurementNoise float64 `yaml:"measurement_noise" validate:"gt=0"`
}

// SkeletonConfig selects the rig the keypoints are mapped to
type SkeletonConfig struct {
	// Rig is a built in rig name, sketch2d or mixamo
	Rig string `yaml:"rig" validate:"omitempty,oneof=sketch2d mixamo"`
	// RigFile loads a rig from YAML instead of a built in one
	RigFile   string  `yaml:"rig_file"`
	Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
}

// TrackingConfig contains the identity tracking and puppet lifetime
// settings
type TrackingConfig struct {
	MatchIoU    float64 `yaml:"match_iou" validate:"gte=0,lte=1"`
	TrackBuffer int     `yaml:"track_buffer" validate:"gte=0"`
	// Grace is the number of cycles a missing identity keeps its puppet
	Grace int `yaml:"grace" validate:"gte=0"`
	// TrailSize is the number of anchor positions in a trail, zero disables
	TrailSize int `yaml:"trail_size" validate:"gte=0"`
}

// RenderConfig contains the puppet drawing settings
type RenderConfig struct {
	// Variant is one of dots, alien, rig or ellipsoid
	Variant   string `yaml:"variant" validate:"oneof=dots alien rig ellipsoid"`
	Tentacles bool   `yaml:"tentacles"`
	// Asset is the joint hierarchy of rig puppets, the built in Xbot when
	// empty
	Asset        string  `yaml:"asset"`
	DefaultScale float64 `yaml:"default_scale" validate:"gt=0"`
	// FPS is the display rate of the render loop
	FPS       int  `yaml:"fps" validate:"gte=1,lte=240"`
	Starfield bool `yaml:"starfield"`
	Stats     bool `yaml:"stats"`
	Labels    bool `yaml:"labels"`
	// Window shows the output in a local window
	Window bool `yaml:"window"`
}

// StreamConfig contains the MJPEG HTTP output settings
type StreamConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr" validate:"required_if=Enabled true"`
	JPEGQuality int    `yaml:"jpeg_quality" validate:"gte=1,lte=100"`
}

// MQTTConfig contains the skeleton frame publisher settings
type MQTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Broker  string `yaml:"broker" validate:"required_if=Enabled true"`
	// Prefix is the first topic level, topics are <prefix>/<instance>/skeleton
	Prefix   string `yaml:"prefix" validate:"required"`
	QoS      byte   `yaml:"qos" validate:"lte=2"`
	Encoding string `yaml:"encoding" validate:"oneof=json msgpack"`
}

// WebSocketConfig contains the live bone feed settings
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// LogConfig contains the logger settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	// File enables rotated file output in addition to stderr
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration of the alien demo on the first camera
func Default() *Config {
	return &Config{
		InstanceID: "posepuppet",
		Camera: CameraConfig{
			Device: "0",
			Width:  640,
			Height: 480,
		},
		Estimator: EstimatorConfig{
			Backend:        "dnn",
			Model:          "yolov8n-pose.onnx",
			InputSize:      640,
			NetBackend:     "default",
			NetTarget:      "cpu",
			PoolSize:       1,
			Encoding:       "jpeg",
			Decoding:       "multi",
			MaxDetections:  5,
			ScoreThreshold: 0.5,
			NMSRadius:      20,
		},
		Smoothing: SmoothingConfig{
			Filter:           "exponential",
			Factor:           0.8,
			ProcessNoise:     1,
			MeasurementNoise: 4,
		},
		Skeleton: SkeletonConfig{
			Rig:       "sketch2d",
			Threshold: 0.5,
		},
		Tracking: TrackingConfig{
			MatchIoU:  0.3,
			TrailSize: 30,
		},
		Render: RenderConfig{
			Variant:      "alien",
			DefaultScale: 60,
			FPS:          30,
			Starfield:    true,
			Stats:        true,
			Labels:       true,
		},
		Stream: StreamConfig{
			Enabled:     true,
			Addr:        ":8080",
			JPEGQuality: 80,
		},
		MQTT: MQTTConfig{
			Prefix:   "posepuppet",
			Encoding: "json",
		},
		WebSocket: WebSocketConfig{
			Addr: ":8081",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Load reads the YAML file at path over the defaults, loads a .env file
// from the working directory if present, applies POSEPUPPET_* overrides and
// validates the result.  An empty path uses the defaults only
func Load(path string) (*Config, error) {

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)

		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the struct tag constraints
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// override sets a configuration field from an environment variable value
type override struct {
	key string
	set func(c *Config, v string) error
}

var overrides = []override{
	{"INSTANCE_ID", func(c *Config, v string) error { c.InstanceID = v; return nil }},
	{"CAMERA_DEVICE", func(c *Config, v string) error { c.Camera.Device = v; return nil }},
	{"ESTIMATOR_BACKEND", func(c *Config, v string) error { c.Estimator.Backend = v; return nil }},
	{"ESTIMATOR_MODEL", func(c *Config, v string) error { c.Estimator.Model = v; return nil }},
	{"ESTIMATOR_COMMAND", func(c *Config, v string) error { c.Estimator.Command = v; return nil }},
	{"ESTIMATOR_REPLAY", func(c *Config, v string) error { c.Estimator.Replay = v; return nil }},
	{"ESTIMATOR_FLIP_HORIZONTAL", func(c *Config, v string) error {
		return setBool(&c.Estimator.FlipHorizontal, v)
	}},
	{"ESTIMATOR_MAX_RATE", func(c *Config, v string) error { return setFloat(&c.Estimator.MaxRate, v) }},
	{"ESTIMATOR_CPUS", func(c *Config, v string) error { c.Estimator.CPUs = v; return nil }},
	{"SMOOTHING_FACTOR", func(c *Config, v string) error { return setFloat(&c.Smoothing.Factor, v) }},
	{"RENDER_VARIANT", func(c *Config, v string) error { c.Render.Variant = v; return nil }},
	{"STREAM_ADDR", func(c *Config, v string) error { c.Stream.Addr = v; return nil }},
	{"MQTT_ENABLED", func(c *Config, v string) error { return setBool(&c.MQTT.Enabled, v) }},
	{"MQTT_BROKER", func(c *Config, v string) error { c.MQTT.Broker = v; return nil }},
	{"WEBSOCKET_ENABLED", func(c *Config, v string) error { return setBool(&c.WebSocket.Enabled, v) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
}

// ApplyEnv applies POSEPUPPET_* overrides found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {

	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.key)

		if !ok {
			continue
		}

		if err := o.set(c, v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.key, err)
		}
	}

	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}
