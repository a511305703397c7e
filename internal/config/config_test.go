package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sweeney/book-kiosk/internal/logic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, warnings, err := Load(writeConfig(t, "# defaults only\nlog_level: debug\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if diff := cmp.Diff(Defaults(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
target_fps: 30
max_video_fps: 12.5
frame_cache_dir: /var/cache/kiosk
screen:
  width: 1280
  height: 720
videos:
  page2: /srv/videos/spread2.mp4
input:
  mode: gpio
  retry_interval: 2s
floating_fault_after: 45s
mqtt:
  broker: tcp://10.0.0.5:1883
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TargetFPS != 30 || cfg.MaxVideoFPS != 12.5 {
		t.Errorf("fps: got %d / %g", cfg.TargetFPS, cfg.MaxVideoFPS)
	}
	if cfg.Screen != (ScreenConfig{Width: 1280, Height: 720}) {
		t.Errorf("screen: got %+v", cfg.Screen)
	}
	if cfg.Input.Mode != InputGPIO || cfg.Input.RetryInterval != 2*time.Second {
		t.Errorf("input: got %+v", cfg.Input)
	}
	if cfg.FloatingFaultAfter != 45*time.Second {
		t.Errorf("floating_fault_after: got %v", cfg.FloatingFaultAfter)
	}
	if cfg.MQTT.Broker != "tcp://10.0.0.5:1883" || cfg.MQTT.ClientID != "book-kiosk" {
		t.Errorf("mqtt: got %+v", cfg.MQTT)
	}
	if got := cfg.Video(logic.Page2); got != "/srv/videos/spread2.mp4" {
		t.Errorf("page2 video: got %s", got)
	}
	if got := cfg.Video(logic.PageBackCover); got != "assets/6.mov" {
		t.Errorf("back cover video should keep default, got %s", got)
	}
	if cfg.Input.BaudRate != 9600 {
		t.Errorf("baud rate default lost: %d", cfg.Input.BaudRate)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "target_fps: 30\nhttp_addr: \":9000\"\n")
	t.Setenv("KIOSK_TARGET_FPS", "15")
	t.Setenv("KIOSK_SCREEN_WIDTH", "800")
	t.Setenv("KIOSK_VIDEOS_FRONT_COVER", "/media/cover.mov")
	t.Setenv("KIOSK_INPUT_GPIO_PINS", "1, 2,3,4,5,6,7,8,9,10")
	t.Setenv("KIOSK_MQTT_HEARTBEAT", "1m")
	t.Setenv("KIOSK_UNKNOWN_SETTING", "ignored")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetFPS != 15 {
		t.Errorf("target_fps: got %d, want 15 (env wins)", cfg.TargetFPS)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("http_addr: got %s, want :9000 from file", cfg.HTTPAddr)
	}
	if cfg.Screen.Width != 800 || cfg.Screen.Height != 1080 {
		t.Errorf("screen: got %+v", cfg.Screen)
	}
	if cfg.Video(logic.PageFrontCover) != "/media/cover.mov" || cfg.Video(logic.Page1) != "assets/2.mov" {
		t.Errorf("videos: got %v", cfg.Videos)
	}
	if diff := cmp.Diff([2 * logic.NumPages]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, cfg.Pins()); diff != "" {
		t.Errorf("pins mismatch (-want +got):\n%s", diff)
	}
	if cfg.MQTT.Heartbeat != time.Minute {
		t.Errorf("heartbeat: got %v", cfg.MQTT.Heartbeat)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")
	t.Setenv(ConfigPathEnvVar, path)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level: got %s, want info", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, _, err := Load(writeConfig(t, "target_fps: [\n")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidateReplacesBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.TargetFPS = 0
	cfg.MaxVideoFPS = -1
	cfg.Screen.Height = 0
	cfg.FloatingFaultAfter = 0
	cfg.LogLevel = "loud"

	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) != 5 {
		t.Errorf("warnings: got %d, want 5: %v", len(warnings), warnings)
	}
	def := Defaults()
	if cfg.TargetFPS != def.TargetFPS || cfg.MaxVideoFPS != def.MaxVideoFPS || cfg.Screen != def.Screen ||
		cfg.FloatingFaultAfter != def.FloatingFaultAfter || cfg.LogLevel != def.LogLevel {
		t.Errorf("bad values not replaced: %+v", cfg)
	}
	if !strings.Contains(warnings[0], "target_fps") {
		t.Errorf("first warning should name target_fps: %s", warnings[0])
	}
}

func TestValidateTargetFPSFromFile(t *testing.T) {
	cfg, warnings, err := Load(writeConfig(t, "target_fps: -5\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetFPS != 24 {
		t.Errorf("target_fps: got %d, want 24", cfg.TargetFPS)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings: got %v", warnings)
	}
}

func TestValidateTargetFPSNonInteger(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  string
	}{
		{name: "word in file", body: "target_fps: fast\n"},
		{name: "fraction in file", body: "target_fps: 12.5\n"},
		{name: "word in env", body: "log_level: info\n", env: "abc"},
		{name: "fraction in env", body: "log_level: info\n", env: "12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("KIOSK_TARGET_FPS", tt.env)
			}
			cfg, warnings, err := Load(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.TargetFPS != 24 {
				t.Errorf("target_fps: got %d, want 24", cfg.TargetFPS)
			}
			if len(warnings) != 1 || !strings.Contains(warnings[0], "target_fps") {
				t.Errorf("warnings: got %v", warnings)
			}
		})
	}
}

func TestLoadTargetFPSWholeValues(t *testing.T) {
	cfg, warnings, err := Load(writeConfig(t, "target_fps: 30.0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetFPS != 30 || len(warnings) != 0 {
		t.Errorf("file 30.0: got %d, warnings %v", cfg.TargetFPS, warnings)
	}

	t.Setenv("KIOSK_TARGET_FPS", " 12 ")
	cfg, warnings, err = Load(writeConfig(t, "target_fps: 30\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TargetFPS != 12 || len(warnings) != 0 {
		t.Errorf("env 12: got %d, warnings %v", cfg.TargetFPS, warnings)
	}
}

func TestValidateDuplicateVideoStemWarns(t *testing.T) {
	cfg := Defaults()
	cfg.Videos[string(logic.Page1)] = "a/1.mov"
	cfg.Videos[string(logic.Page2)] = "b/1.mp4"

	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// front_cover keeps assets/1.mov, so both overrides collide with it.
	if len(warnings) != 2 {
		t.Fatalf("warnings: got %v", warnings)
	}
	for _, w := range warnings {
		if !strings.Contains(w, `"1"`) {
			t.Errorf("warning should name the shared stem: %s", w)
		}
	}
}

func TestValidateLogRetention(t *testing.T) {
	cfg := Defaults()
	cfg.LogMaxAge = 0
	cfg.LogBackups = -1

	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) != 2 {
		t.Errorf("warnings: got %v", warnings)
	}
	if cfg.LogMaxAge != 7 || cfg.LogBackups != 7 {
		t.Errorf("retention not replaced: age %d backups %d", cfg.LogMaxAge, cfg.LogBackups)
	}
}

func TestValidateMissingVideoWarns(t *testing.T) {
	cfg := Defaults()
	delete(cfg.Videos, string(logic.Page3))
	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "page3") {
		t.Errorf("warnings: got %v", warnings)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Input.Mode = "bluetooth" }},
		{"short pins", func(c *Config) { c.Input.GPIOPins = []int{1, 2, 3} }},
		{"long pins", func(c *Config) { c.Input.GPIOPins = make([]int, 11) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			if _, err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"KIOSK_TARGET_FPS":      "target_fps",
		"KIOSK_INPUT_BAUD_RATE": "input.baud_rate",
		"KIOSK_VIDEOS_PAGE4":    "videos.page4",
		"KIOSK_DISPLAY_DEVICE":  "display.device",
		"KIOSK_CONFIG":          "",
		"KIOSK_NOT_A_KEY":       "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("%s: got %q, want %q", in, got, want)
		}
	}
}
