package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	file := filepath.Join(t.TempDir(), "posepuppet.yaml")

	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	return file
}

func TestDefaultValid(t *testing.T) {

	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {

	file := writeConfig(t, `
instance_id: hall
estimator:
  backend: worker
  command: python3
  args: [pose_worker.py]
  timeout: 250ms
smoothing:
  factor: 0.6
render:
  variant: ellipsoid
mqtt:
  enabled: true
  broker: localhost:1883
`)

	cfg, err := Load(file)

	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.InstanceID != "hall" || cfg.Estimator.Backend != "worker" ||
		len(cfg.Estimator.Args) != 1 {
		t.Errorf("unexpected estimator %+v", cfg.Estimator)
	}

	if cfg.Estimator.Timeout != 250*time.Millisecond {
		t.Errorf("expected 250ms timeout, got %v", cfg.Estimator.Timeout)
	}

	if cfg.Smoothing.Factor != 0.6 || cfg.Render.Variant != "ellipsoid" {
		t.Errorf("unexpected overrides %+v %+v", cfg.Smoothing, cfg.Render)
	}

	// values not in the file keep their defaults
	if cfg.Estimator.MaxDetections != 5 || cfg.Render.FPS != 30 {
		t.Errorf("defaults lost: %+v", cfg.Estimator)
	}
}

func TestLoadEnvOverrides(t *testing.T) {

	t.Setenv("POSEPUPPET_RENDER_VARIANT", "dots")
	t.Setenv("POSEPUPPET_ESTIMATOR_FLIP_HORIZONTAL", "true")
	t.Setenv("POSEPUPPET_SMOOTHING_FACTOR", "0.5")
	t.Setenv("POSEPUPPET_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")

	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Render.Variant != "dots" || !cfg.Estimator.FlipHorizontal ||
		cfg.Smoothing.Factor != 0.5 || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v %+v %+v", cfg.Render, cfg.Estimator, cfg.Log)
	}
}

func TestLoadInvalid(t *testing.T) {

	tests := []struct {
		name string
		data string
	}{
		{"unknown variant", "render:\n  variant: robot\n"},
		{"factor of one", "smoothing:\n  factor: 1\n"},
		{"mqtt without broker", "mqtt:\n  enabled: true\n"},
		{"worker without command", "estimator:\n  backend: worker\n"},
		{"topic wildcard in instance", "instance_id: a/#\n"},
		{"qos too high", "mqtt:\n  qos: 3\n"},
	}

	for _, tc := range tests {
		if _, err := Load(writeConfig(t, tc.data)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnvBadValue(t *testing.T) {

	lookup := func(key string) (string, bool) {
		if key == "POSEPUPPET_MQTT_ENABLED" {
			return "maybe", true
		}
		return "", false
	}

	if err := Default().ApplyEnv(lookup); err == nil {
		t.Error("expected error for unparsable bool")
	}
}
