package framecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// MetadataFile is the sidecar written next to the frames.
const MetadataFile = "metadata.json"

// Metadata is the cache fingerprint plus the derived playback parameters.
type Metadata struct {
	FPS             float64 `json:"fps"`
	FrameCount      int     `json:"frame_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPSLimit        float64 `json:"fps_limit"`
	// SourceMTime is the source file modification time in Unix nanoseconds.
	SourceMTime int64 `json:"source_file_mtime"`
}

// readMetadata returns nil, nil when no sidecar exists.
func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}

// writeMetadata replaces the sidecar atomically so a crash never leaves a
// half-written fingerprint next to a complete frame set.
func writeMetadata(dir string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
