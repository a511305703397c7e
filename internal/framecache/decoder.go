package framecache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Probe describes a source video.
type Probe struct {
	FPS             float64
	DurationSeconds float64 // 0 if unknown
}

// DecodeRequest asks for every frame of Source, resampled to FPS and scaled
// to Width x Height, written into Dir as frame_%05d.png starting at 0.
type DecodeRequest struct {
	Source string
	Dir    string
	FPS    float64
	Width  int
	Height int
}

// Decoder turns a source video into individual frame files.
type Decoder interface {
	Probe(ctx context.Context, source string) (Probe, error)
	Decode(ctx context.Context, req DecodeRequest) error
}

// FFmpegDecoder shells out to ffprobe and ffmpeg.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
	Logger      zerolog.Logger
}

// NewFFmpegDecoder returns a decoder using the given binaries ("" = look up in PATH).
func NewFFmpegDecoder(ffmpegPath, ffprobePath string, logger zerolog.Logger) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Logger: logger}
}

type probeOutput struct {
	Streams []struct {
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the frame rate and duration of the first video stream.
func (d *FFmpegDecoder) Probe(ctx context.Context, source string) (Probe, error) {
	cmd := exec.CommandContext(ctx, d.FFprobePath, // #nosec G204
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,avg_frame_rate:format=duration",
		"-of", "json",
		source,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Probe{}, fmt.Errorf("ffprobe %s: %w: %s", source, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (Probe, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return Probe{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 {
		return Probe{}, fmt.Errorf("no video stream")
	}

	fps, err := parseFrameRate(po.Streams[0].AvgFrameRate)
	if err != nil || fps <= 0 {
		fps, err = parseFrameRate(po.Streams[0].RFrameRate)
		if err != nil {
			return Probe{}, err
		}
	}

	var duration float64
	if po.Format.Duration != "" {
		duration, _ = strconv.ParseFloat(po.Format.Duration, 64)
	}
	return Probe{FPS: fps, DurationSeconds: duration}, nil
}

// parseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func parseFrameRate(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	dv, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	if dv == 0 {
		return 0, nil
	}
	return n / dv, nil
}

// Decode runs ffmpeg and writes PNG frames into req.Dir.
func (d *FFmpegDecoder) Decode(ctx context.Context, req DecodeRequest) error {
	args := buildDecodeArgs(req)
	cmd := exec.CommandContext(ctx, d.FFmpegPath, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.Logger.Debug().Str("source", req.Source).Strs("args", args).Msg("decoding video")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", req.Source, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func buildDecodeArgs(req DecodeRequest) []string {
	filter := fmt.Sprintf("fps=%s,scale=%d:%d:flags=bicubic",
		strconv.FormatFloat(req.FPS, 'f', -1, 64), req.Width, req.Height)
	return []string{
		"-v", "error",
		"-nostdin",
		"-y",
		"-i", req.Source,
		"-an",
		"-vf", filter,
		"-start_number", "0",
		filepath.Join(req.Dir, framePattern),
	}
}
