// Package config loads kiosk configuration from defaults, an optional YAML
// file and KIOSK_* environment variables, in increasing priority.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/switches"
)

// Input modes.
const (
	InputSerial = "serial"
	InputGPIO   = "gpio"
	InputNone   = "none"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KIOSK_"

// ConfigPathEnvVar overrides the config file path when -config is not given.
const ConfigPathEnvVar = EnvPrefix + "CONFIG"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/book-kiosk/config.yaml",
}

// Config is the complete kiosk configuration.
type Config struct {
	TargetFPS          int               `koanf:"target_fps"`
	MaxVideoFPS        float64           `koanf:"max_video_fps"`
	FrameCacheDir      string            `koanf:"frame_cache_dir"`
	Screen             ScreenConfig      `koanf:"screen"`
	Videos             map[string]string `koanf:"videos"`
	Input              InputConfig       `koanf:"input"`
	FloatingFaultAfter time.Duration     `koanf:"floating_fault_after"`
	Display            DisplayConfig     `koanf:"display"`
	HTTPAddr           string            `koanf:"http_addr"`
	MQTT               MQTTConfig        `koanf:"mqtt"`
	LogLevel           string            `koanf:"log_level"`
	LogFile            string            `koanf:"log_file"`
	LogMaxAge          int               `koanf:"log_max_age"`
	LogBackups         int               `koanf:"log_backups"`
	FFmpegPath         string            `koanf:"ffmpeg_path"`
	FFprobePath        string            `koanf:"ffprobe_path"`
}

// ScreenConfig is the render target size frames are scaled to.
type ScreenConfig struct {
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// InputConfig selects and tunes the switch reading source.
type InputConfig struct {
	Mode          string        `koanf:"mode"`
	BaudRate      int           `koanf:"baud_rate"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	GPIOChip      string        `koanf:"gpio_chip"`
	GPIOPins      []int         `koanf:"gpio_pins"`
	GPIOPoll      time.Duration `koanf:"gpio_poll"`
}

// DisplayConfig selects the output device. An empty device runs headless.
type DisplayConfig struct {
	Device string `koanf:"device"`
}

// MQTTConfig configures telemetry. An empty broker disables it.
type MQTTConfig struct {
	Broker    string        `koanf:"broker"`
	ClientID  string        `koanf:"client_id"`
	Heartbeat time.Duration `koanf:"heartbeat"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		TargetFPS:     24,
		MaxVideoFPS:   24.0,
		FrameCacheDir: "assets/frame_cache",
		Screen:        ScreenConfig{Width: 1920, Height: 1080},
		Videos: map[string]string{
			string(logic.PageFrontCover): "assets/1.mov",
			string(logic.Page1):          "assets/2.mov",
			string(logic.Page2):          "assets/3.mov",
			string(logic.Page3):          "assets/4.mov",
			string(logic.Page4):          "assets/5.mov",
			string(logic.PageBackCover):  "assets/6.mov",
		},
		Input: InputConfig{
			Mode:          InputSerial,
			BaudRate:      switches.DefaultBaudRate,
			RetryInterval: switches.DefaultRetryInterval,
			GPIOChip:      "gpiochip0",
			GPIOPins:      append([]int(nil), switches.DefaultPins[:]...),
			GPIOPoll:      50 * time.Millisecond,
		},
		FloatingFaultAfter: logic.DefaultFloatingFaultAfter,
		Display:            DisplayConfig{Device: "/dev/fb0"},
		HTTPAddr:           ":8080",
		MQTT:               MQTTConfig{ClientID: "book-kiosk", Heartbeat: 15 * time.Minute},
		LogLevel:           "debug",
		LogFile:            "logs/kiosk.log",
		LogMaxAge:          7,
		LogBackups:         7,
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
	}
}

// Load builds the configuration. path may be empty, in which case
// KIOSK_CONFIG and then DefaultConfigPaths are tried. The returned
// warnings describe values that were replaced by defaults.
func Load(path string) (*Config, []string, error) {
	k := koanf.New(".")

	// Video defaults are merged per page after unmarshalling so that a
	// file or env override of one page keeps the others.
	defaults := Defaults()
	defaultVideos := defaults.Videos
	defaults.Videos = nil
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// A missing .env is normal on a deployed kiosk.
	_ = godotenv.Load()
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitList(k, "input.gpio_pins"); err != nil {
		return nil, nil, err
	}

	fpsWarnings, err := normalizeTargetFPS(k, defaults.TargetFPS)
	if err != nil {
		return nil, nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Videos == nil {
		cfg.Videos = make(map[string]string, len(defaultVideos))
	}
	for page, src := range defaultVideos {
		if _, ok := cfg.Videos[page]; !ok {
			cfg.Videos[page] = src
		}
	}

	warnings, err := cfg.Validate()
	warnings = append(fpsWarnings, warnings...)
	if err != nil {
		return nil, warnings, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, warnings, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeys maps env names (prefix stripped, lower case) to config paths.
var envKeys = map[string]string{
	"target_fps":           "target_fps",
	"max_video_fps":        "max_video_fps",
	"frame_cache_dir":      "frame_cache_dir",
	"screen_width":         "screen.width",
	"screen_height":        "screen.height",
	"input_mode":           "input.mode",
	"input_baud_rate":      "input.baud_rate",
	"input_retry_interval": "input.retry_interval",
	"input_gpio_chip":      "input.gpio_chip",
	"input_gpio_pins":      "input.gpio_pins",
	"input_gpio_poll":      "input.gpio_poll",
	"floating_fault_after": "floating_fault_after",
	"display_device":       "display.device",
	"http_addr":            "http_addr",
	"mqtt_broker":          "mqtt.broker",
	"mqtt_client_id":       "mqtt.client_id",
	"mqtt_heartbeat":       "mqtt.heartbeat",
	"log_level":            "log_level",
	"log_file":             "log_file",
	"log_max_age":          "log_max_age",
	"log_backups":          "log_backups",
	"ffmpeg_path":          "ffmpeg_path",
	"ffprobe_path":         "ffprobe_path",
}

// envTransformFunc maps KIOSK_SCREEN_WIDTH to screen.width and
// KIOSK_VIDEOS_PAGE1 to videos.page1. Unknown names are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	if page, ok := strings.CutPrefix(key, "videos_"); ok {
		return "videos." + page
	}
	return envKeys[key]
}

// splitList turns a comma-separated env value into a list.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if err := k.Set(path, parts); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// normalizeTargetFPS replaces a target_fps that is not a whole positive
// number before unmarshalling, which would otherwise fail on "fast" and
// truncate 12.5 to 12.
func normalizeTargetFPS(k *koanf.Koanf, def int) ([]string, error) {
	raw := k.Get("target_fps")
	fps, ok := wholePositive(raw)
	var warnings []string
	if !ok {
		warnings = append(warnings, fmt.Sprintf("target_fps must be a positive integer, got %v; using %d", raw, def))
		fps = def
	}
	if err := k.Set("target_fps", fps); err != nil {
		return nil, fmt.Errorf("set target_fps: %w", err)
	}
	return warnings, nil
}

func wholePositive(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// Validate replaces recoverable bad values with defaults and reports
// each replacement as a warning. Structural problems are errors.
func (c *Config) Validate() ([]string, error) {
	def := Defaults()
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if c.TargetFPS <= 0 {
		warn("target_fps must be a positive integer, got %d; using %d", c.TargetFPS, def.TargetFPS)
		c.TargetFPS = def.TargetFPS
	}
	if c.MaxVideoFPS <= 0 {
		warn("max_video_fps must be positive, got %g; using %g", c.MaxVideoFPS, def.MaxVideoFPS)
		c.MaxVideoFPS = def.MaxVideoFPS
	}
	if c.FrameCacheDir == "" {
		warn("frame_cache_dir is empty; using %s", def.FrameCacheDir)
		c.FrameCacheDir = def.FrameCacheDir
	}
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		warn("screen size %dx%d is invalid; using %dx%d", c.Screen.Width, c.Screen.Height, def.Screen.Width, def.Screen.Height)
		c.Screen = def.Screen
	}
	if c.FloatingFaultAfter <= 0 {
		warn("floating_fault_after must be positive, got %s; using %s", c.FloatingFaultAfter, def.FloatingFaultAfter)
		c.FloatingFaultAfter = def.FloatingFaultAfter
	}
	if c.Input.BaudRate <= 0 {
		warn("input.baud_rate must be positive, got %d; using %d", c.Input.BaudRate, def.Input.BaudRate)
		c.Input.BaudRate = def.Input.BaudRate
	}
	if c.Input.RetryInterval <= 0 {
		warn("input.retry_interval must be positive, got %s; using %s", c.Input.RetryInterval, def.Input.RetryInterval)
		c.Input.RetryInterval = def.Input.RetryInterval
	}
	if c.Input.GPIOPoll <= 0 {
		warn("input.gpio_poll must be positive, got %s; using %s", c.Input.GPIOPoll, def.Input.GPIOPoll)
		c.Input.GPIOPoll = def.Input.GPIOPoll
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		warn("log_level %q is not a valid level; using %s", c.LogLevel, def.LogLevel)
		c.LogLevel = def.LogLevel
	}
	if c.LogMaxAge <= 0 {
		warn("log_max_age must be positive, got %d; using %d", c.LogMaxAge, def.LogMaxAge)
		c.LogMaxAge = def.LogMaxAge
	}
	if c.LogBackups < 0 {
		warn("log_backups must not be negative, got %d; using %d", c.LogBackups, def.LogBackups)
		c.LogBackups = def.LogBackups
	}
	stems := make(map[string]logic.PageID, len(logic.AllPages))
	for _, p := range logic.AllPages {
		src := c.Videos[string(p)]
		if src == "" {
			warn("no video configured for %s; the page will show no video", p)
			continue
		}
		// Frame caches are keyed by file stem.
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		if other, ok := stems[stem]; ok {
			warn("videos for %s and %s share the name %q; their frame caches will overwrite each other", other, p, stem)
			continue
		}
		stems[stem] = p
	}

	switch c.Input.Mode {
	case InputSerial, InputGPIO, InputNone:
	default:
		return warnings, fmt.Errorf("input.mode %q: want %s, %s or %s", c.Input.Mode, InputSerial, InputGPIO, InputNone)
	}
	if len(c.Input.GPIOPins) != 2*logic.NumPages {
		return warnings, fmt.Errorf("input.gpio_pins: want %d pins, got %d", 2*logic.NumPages, len(c.Input.GPIOPins))
	}
	return warnings, nil
}

// Video returns the source path for page, or "" if none is configured.
func (c *Config) Video(page logic.PageID) string {
	return c.Videos[string(page)]
}

// Pins returns the GPIO offsets in wire order. Validate guarantees the length.
func (c *Config) Pins() [2 * logic.NumPages]int {
	var pins [2 * logic.NumPages]int
	copy(pins[:], c.Input.GPIOPins)
	return pins
}
