// Package imageproc checks upload payloads before anything is written to
// storage.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyPayload       = errors.New("empty image payload")
	ErrTooLarge           = errors.New("image too large")
	ErrInvalidFormat      = errors.New("invalid image format")
	ErrDimensionsExceeded = errors.New("image dimensions exceeded")
)

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

var extensions = map[string]string{
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
}

// Limits bound what an upload may contain. Zero values disable a check.
type Limits struct {
	MaxBytes  int64
	MaxWidth  int
	MaxHeight int
	// Decoder names as reported by image.DecodeConfig. Empty allows every
	// registered format.
	Formats []string
}

type Info struct {
	Format      string
	ContentType string
	Ext         string
	Width       int
	Height      int
	Size        int64
}

type Validator struct {
	limits  Limits
	allowed map[string]bool
}

func NewValidator(limits Limits) *Validator {
	v := &Validator{limits: limits}
	if len(limits.Formats) > 0 {
		v.allowed = make(map[string]bool, len(limits.Formats))
		for _, f := range limits.Formats {
			f = strings.ToLower(strings.TrimSpace(f))
			if f == "jpg" {
				f = "jpeg"
			}
			v.allowed[f] = true
		}
	}
	return v
}

// Validate decodes only the image header, so oversized pixel data is
// rejected without being decompressed.
func (v *Validator) Validate(data []byte) (Info, error) {
	size := int64(len(data))
	if size == 0 {
		return Info{}, ErrEmptyPayload
	}
	if v.limits.MaxBytes > 0 && size > v.limits.MaxBytes {
		return Info{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, size, v.limits.MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if v.allowed != nil && !v.allowed[format] {
		return Info{}, fmt.Errorf("%w: %s is not allowed", ErrInvalidFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrInvalidFormat, cfg.Width, cfg.Height)
	}
	if (v.limits.MaxWidth > 0 && cfg.Width > v.limits.MaxWidth) ||
		(v.limits.MaxHeight > 0 && cfg.Height > v.limits.MaxHeight) {
		return Info{}, fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrDimensionsExceeded,
			cfg.Width, cfg.Height, v.limits.MaxWidth, v.limits.MaxHeight)
	}

	ct, ok := contentTypes[format]
	if !ok {
		ct = "application/octet-stream"
	}
	ext, ok := extensions[format]
	if !ok {
		ext = format
	}
	return Info{
		Format:      format,
		ContentType: ct,
		Ext:         ext,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        size,
	}, nil
}
