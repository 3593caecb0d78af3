// Package imagex prepares uploaded images for the vision API: downscale,
// JPEG re-compress, base64.
package imagex

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/tianyan-ai/chat-backend/internal/logger"
)

const (
	// MaxEdge bounds the long edge after downscaling.
	MaxEdge = 1024
	// MaxInputSize rejects absurd uploads outright.
	MaxInputSize = 20 * 1024 * 1024
	// recompressThreshold triggers the lower-quality second pass.
	recompressThreshold = 4 * 1024 * 1024

	firstPassQuality  = 85
	secondPassQuality = 65
)

// EncodeFile reads an image file and returns its base64 JPEG form,
// downscaled to MaxEdge on the long edge. Payloads still above 4MB after
// the first pass are re-compressed at a lower quality.
func EncodeFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("图片文件不存在: %s", path)
	}
	if info.Size() > MaxInputSize {
		return "", fmt.Errorf("图片文件过大，大小: %d bytes", info.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Encode(raw)
}

// Encode performs the downscale/re-compress/base64 pipeline on raw image
// bytes (JPEG, PNG or GIF).
func Encode(raw []byte) (string, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("图片文件损坏或格式不支持: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	logger.L().Debug("encoding image",
		zap.String("format", format), zap.Int("width", w), zap.Int("height", h))

	if w > MaxEdge || h > MaxEdge {
		img = scale(img, w, h)
	}

	// flatten any alpha onto white before JPEG
	flat := image.NewRGBA(img.Bounds())
	stddraw.Draw(flat, flat.Bounds(), image.White, image.Point{}, stddraw.Src)
	stddraw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, stddraw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: firstPassQuality}); err != nil {
		return "", err
	}

	if buf.Len() > recompressThreshold {
		logger.L().Warn("image still large after first pass, re-compressing",
			zap.Int("bytes", buf.Len()))
		second, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			return "", err
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, second, &jpeg.Options{Quality: secondPassQuality}); err != nil {
			return "", err
		}
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func scale(img image.Image, w, h int) image.Image {
	long := w
	if h > long {
		long = h
	}
	ratio := float64(MaxEdge) / float64(long)
	nw := int(float64(w) * ratio)
	nh := int(float64(h) * ratio)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}
