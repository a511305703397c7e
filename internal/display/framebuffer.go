package display

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sysGraphics = "/sys/class/graphics"

// FramebufferSurface writes frames to a Linux framebuffer device
// (e.g. /dev/fb0) configured for 32 bits per pixel, BGRA byte order.
type FramebufferSurface struct {
	f      *os.File
	bounds image.Rectangle
	stride int
	buf    []byte
}

// OpenFramebuffer opens device and reads its geometry from sysfs.
func OpenFramebuffer(device string) (*FramebufferSurface, error) {
	return openFramebuffer(device, filepath.Join(sysGraphics, filepath.Base(device)))
}

func openFramebuffer(device, sysDir string) (*FramebufferSurface, error) {
	size, err := readSysfs(sysDir, "virtual_size")
	if err != nil {
		return nil, err
	}
	w, h, ok := strings.Cut(size, ",")
	if !ok {
		return nil, fmt.Errorf("framebuffer virtual_size %q: want w,h", size)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return nil, fmt.Errorf("framebuffer width: %w", err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return nil, fmt.Errorf("framebuffer height: %w", err)
	}

	bpp, err := readSysfs(sysDir, "bits_per_pixel")
	if err != nil {
		return nil, err
	}
	if bpp != "32" {
		return nil, fmt.Errorf("framebuffer %s: unsupported depth %s bpp", device, bpp)
	}

	stride := width * 4
	if s, err := readSysfs(sysDir, "stride"); err == nil {
		if v, err := strconv.Atoi(s); err == nil && v >= stride {
			stride = v
		}
	}

	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer: %w", err)
	}
	return &FramebufferSurface{
		f:      f,
		bounds: image.Rect(0, 0, width, height),
		stride: stride,
		buf:    make([]byte, stride*height),
	}, nil
}

func readSysfs(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("read framebuffer %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Bounds returns the framebuffer resolution.
func (fb *FramebufferSurface) Bounds() image.Rectangle { return fb.bounds }

// Present converts frame to BGRA and writes it at offset 0. Frames larger
// than the framebuffer are clipped.
func (fb *FramebufferSurface) Present(frame *image.RGBA) error {
	r := frame.Bounds().Intersect(fb.bounds)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := frame.Pix[frame.PixOffset(r.Min.X, y):frame.PixOffset(r.Max.X, y)]
		dst := fb.buf[y*fb.stride+r.Min.X*4:]
		for i := 0; i+3 < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}
	if _, err := fb.f.WriteAt(fb.buf, 0); err != nil {
		return fmt.Errorf("write framebuffer: %w", err)
	}
	return nil
}

// Close closes the device.
func (fb *FramebufferSurface) Close() error {
	return fb.f.Close()
}
