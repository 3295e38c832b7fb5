// Package preview renders the JPEG previews attached to image uploads.
package preview

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"swissdata/internal/config"
	"swissdata/internal/deco"
)

const (
	DefaultFormat  = "320:320"
	DefaultQuality = 0.6
)

// AudioPreview is the preview shown for audio uploads.
const AudioPreview = "data:image/svg+xml;utf8,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 24 24' width='24' height='24' fill='currentColor'><path d='M12 3v9.28a4.39 4.39 0 0 0-1.5-.28C8.01 12 6 14.01 6 16.5S8.01 21 10.5 21c2.31 0 4.2-1.75 4.45-4H15V6h4V3h-7z'></path></svg>"

var ErrInvalidFormat = errors.New("invalid preview format")

var imageTypes = map[string]bool{
	"image/jpg":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/png":  true,
}

func withDefaults(cfg config.PreviewConfig) config.PreviewConfig {
	if cfg.Formats == nil {
		cfg.Formats = []string{DefaultFormat}
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = DefaultFormat
	}
	if cfg.Quality <= 0 || cfg.Quality > 1 {
		cfg.Quality = DefaultQuality
	}
	return cfg
}

// GenerateAll renders the previews of every file still lacking one.
func GenerateAll(files []*deco.FileItem, cfg config.PreviewConfig) error {
	var g errgroup.Group
	for _, f := range files {
		g.Go(func() error { return Generate(f, cfg) })
	}
	return g.Wait()
}

// Generate fills f.Blobs with one JPEG per format and sets PreviewData to
// the default format as a data URL. Files that already have a preview are
// left untouched; audio files get an icon, other types nothing.
func Generate(f *deco.FileItem, cfg config.PreviewConfig) error {
	if f.PreviewData != "" {
		return nil
	}
	switch {
	case imageTypes[f.Type]:
	case strings.HasPrefix(f.Type, "audio/"):
		f.PreviewData = AudioPreview
		return nil
	default:
		return nil
	}
	cfg = withDefaults(cfg)
	if len(cfg.Formats) == 0 {
		return nil
	}

	src, _, err := image.Decode(bytes.NewReader(f.Content()))
	if err != nil {
		return fmt.Errorf("decode %s: %w", f.Name, err)
	}
	b := src.Bounds()
	f.Width, f.Height = b.Dx(), b.Dy()

	if f.Blobs == nil {
		f.Blobs = make(map[string][]byte, len(cfg.Formats))
	}
	opts := &jpeg.Options{Quality: int(cfg.Quality * 100)}
	for _, format := range cfg.Formats {
		dst, err := Render(src, format)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, dst, opts); err != nil {
			return fmt.Errorf("encode %s preview: %w", format, err)
		}
		f.Blobs[format] = buf.Bytes()
	}

	blob, ok := f.Blobs[cfg.DefaultFormat]
	if !ok {
		blob = f.Blobs[f.BlobFormats()[0]]
	}
	f.PreviewData = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(blob)
	return nil
}

// Render scales src to format. "W:H" covers a WxH box, cropping the
// overflow around the center; "W" resizes to width W keeping the ratio.
func Render(src image.Image, format string) (image.Image, error) {
	w, h, cover, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidFormat)
	}

	crop := b
	if cover {
		// largest box of ratio w:h centered in src
		cw, ch := b.Dx(), b.Dx()*h/w
		if ch > b.Dy() {
			cw, ch = b.Dy()*w/h, b.Dy()
		}
		x0 := b.Min.X + (b.Dx()-cw)/2
		y0 := b.Min.Y + (b.Dy()-ch)/2
		crop = image.Rect(x0, y0, x0+cw, y0+ch)
	} else {
		h = max(1, b.Dy()*w/b.Dx())
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst, nil
}

func parseFormat(format string) (w, h int, cover bool, err error) {
	ws, hs, cover := strings.Cut(format, ":")
	if w, err = strconv.Atoi(ws); err != nil || w <= 0 {
		return 0, 0, false, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
	if !cover {
		return w, 0, false, nil
	}
	if h, err = strconv.Atoi(hs); err != nil || h <= 0 {
		return 0, 0, false, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
	return w, h, true, nil
}
