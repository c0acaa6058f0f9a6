package extract

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/phuslu/log"
)

// OCREngine wraps tesseract for page-image recognition plus orientation
// detection. Clients are created per call; gosseract clients are not safe
// for concurrent use.
type OCREngine struct {
	languages []string
}

func NewOCREngine(languages []string) *OCREngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &OCREngine{languages: languages}
}

// RecognizeFile OCRs one image file and returns the recognized text.
func (o *OCREngine) RecognizeFile(path string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(o.languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(path); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return text, nil
}

// DetectRotation returns the clockwise correction in degrees (0, 90, 180,
// 270) that makes the page upright, using tesseract orientation-and-script
// detection. Any detector failure is logged and reported as 0 so a flaky
// OSD pass never fails a page.
func (o *OCREngine) DetectRotation(path string) int {
	out, err := exec.Command("tesseract", path, "stdout", "--psm", "0").CombinedOutput()
	if err != nil {
		log.Warn().Err(err).Str("image", path).Msg("orientation detection failed, assuming 0")
		return 0
	}
	return parseOSDRotate(string(out))
}

// parseOSDRotate extracts the "Rotate:" value from tesseract OSD output:
// the clockwise degrees to apply so the page reads upright. Missing or
// malformed values read as 0.
func parseOSDRotate(out string) int {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Rotate:"); ok {
			deg, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0
			}
			return ((deg % 360) + 360) % 360
		}
	}
	return 0
}

// CorrectOrientation rotates the image to upright if a rotation was
// detected, writing the corrected copy next to the original. It returns
// the path to use for OCR; on any failure the original path is returned.
func (o *OCREngine) CorrectOrientation(path string) string {
	rot := o.DetectRotation(path)
	if rot == 0 {
		return path
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("image", path).Msg("orientation correction read failed")
		return path
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		log.Warn().Err(err).Str("image", path).Msg("orientation correction decode failed")
		return path
	}

	// The OSD Rotate value is the clockwise turn to apply to reach upright,
	// not the page's current displacement.
	corrected := rotate(img, rot)

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_upright.png"
	f, err := os.Create(outPath)
	if err != nil {
		log.Warn().Err(err).Str("image", path).Msg("orientation correction write failed")
		return path
	}
	defer f.Close()
	if err := png.Encode(f, corrected); err != nil {
		log.Warn().Err(err).Str("image", path).Msg("orientation correction encode failed")
		return path
	}

	log.Debug().Str("image", path).Int("rotation", rot).Msg("corrected page orientation")
	return outPath
}

// rotate turns an image clockwise by a multiple of 90 degrees.
func rotate(src image.Image, degrees int) image.Image {
	degrees = ((degrees % 360) + 360) % 360
	b := src.Bounds()
	switch degrees {
	case 90:
		dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(b.Max.Y-1-y, x-b.Min.X, src.At(x, y))
			}
		}
		return dst
	case 180:
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(b.Max.X-1-x, b.Max.Y-1-y, src.At(x, y))
			}
		}
		return dst
	case 270:
		dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Set(y-b.Min.Y, b.Max.X-1-x, src.At(x, y))
			}
		}
		return dst
	default:
		return src
	}
}
