package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	maxImageWidth  = 2000
	maxImageHeight = 2000
	jpegQuality    = 85
)

type encodedImage struct {
	data        []byte
	ext         string
	contentType string
}

// normalizeImage decodes a png, jpeg or gif, shrinks it to fit the maximum
// box while keeping its aspect ratio, and re-encodes it. Images with
// transparency stay png, everything else becomes jpeg.
func normalizeImage(data []byte) (encodedImage, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return encodedImage{}, fmt.Errorf("decode image: %w", err)
	}
	switch format {
	case "png", "jpeg", "gif":
	default:
		return encodedImage{}, fmt.Errorf("unsupported image format %q", format)
	}

	dst := fitWithin(src, maxImageWidth, maxImageHeight)

	var buf bytes.Buffer
	if hasAlpha(dst) {
		if err := png.Encode(&buf, dst); err != nil {
			return encodedImage{}, fmt.Errorf("encode png: %w", err)
		}
		return encodedImage{data: buf.Bytes(), ext: ".png", contentType: "image/png"}, nil
	}
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return encodedImage{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return encodedImage{data: buf.Bytes(), ext: ".jpg", contentType: "image/jpeg"}, nil
}

// fitWithin scales src down to fit w x h. Smaller images are returned as is.
func fitWithin(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw <= w && sh <= h {
		return src
	}
	scale := min(float64(w)/float64(sw), float64(h)/float64(sh))
	dw := max(1, int(float64(sw)*scale))
	dh := max(1, int(float64(sh)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
