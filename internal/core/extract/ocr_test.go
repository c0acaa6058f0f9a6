package extract

import (
	"image"
	"image/color"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asymmetricImage has one distinct pixel per corner so every 90-degree
// turn produces a distinguishable result.
func asymmetricImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(2, 0, color.RGBA{G: 255, A: 255})
	img.Set(0, 1, color.RGBA{B: 255, A: 255})
	img.Set(2, 1, color.RGBA{R: 255, G: 255, A: 255})
	return img
}

func samePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds(), got.Bounds())
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			wr, wg, wb, wa := want.At(x, y).RGBA()
			gr, gg, gb, ga := got.At(x, y).RGBA()
			require.Equal(t, [4]uint32{wr, wg, wb, wa}, [4]uint32{gr, gg, gb, ga}, "pixel (%d,%d)", x, y)
		}
	}
}

func TestRotateComposesTo360(t *testing.T) {
	upright := asymmetricImage()
	for _, deg := range []int{90, 180, 270} {
		t.Run(strconv.Itoa(deg), func(t *testing.T) {
			turned := rotate(upright, deg)
			restored := rotate(turned, 360-deg)
			samePixels(t, upright, restored)
		})
	}
}

// A sideways page is restored by applying the OSD-advised rotation
// directly: the advised value is the correction, not the displacement.
func TestAdvisedRotationRestoresUpright(t *testing.T) {
	upright := asymmetricImage()

	// Page sitting 270 degrees clockwise from upright; OSD advises
	// "Rotate: 90" for such a page.
	page := rotate(upright, 270)
	advised := parseOSDRotate("Page number: 0\nOrientation in degrees: 270\nRotate: 90\nOrientation confidence: 12.34\n")
	assert.Equal(t, 90, advised)

	samePixels(t, upright, rotate(page, advised))
}

func TestParseOSDRotate(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want int
	}{
		{"upright", "Orientation in degrees: 0\nRotate: 0\n", 0},
		{"quarter turn", "Orientation in degrees: 270\nRotate: 90\n", 90},
		{"upside down", "Orientation in degrees: 180\nRotate: 180\n", 180},
		{"missing line", "Orientation confidence: 2.0\n", 0},
		{"malformed value", "Rotate: ninety\n", 0},
		{"normalized", "Rotate: 450\n", 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOSDRotate(tt.out))
		})
	}
}
