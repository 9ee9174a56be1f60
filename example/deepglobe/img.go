package main

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	ts "github.com/sugarme/gotch/tensor"
	xdraw "golang.org/x/image/draw"
)

// imageToTensor converts an RGB image to a (3, H, W) float tensor with
// values in 0..255.
func imageToTensor(img image.Image) *ts.Tensor {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	vals := make([]float32, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*w + x
			vals[idx] = float32(r >> 8)
			vals[plane+idx] = float32(g >> 8)
			vals[2*plane+idx] = float32(bl >> 8)
		}
	}

	return ts.MustOfSlice(vals).MustView([]int64{3, int64(h), int64(w)}, true)
}

// maskToTensor converts a mask image to a binary (1, H, W) float tensor.
// Any pixel above half intensity counts as road.
func maskToTensor(img image.Image) *ts.Tensor {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	vals := make([]float32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray := toGrayScale(float64(r>>8), float64(g>>8), float64(bl>>8))
			if gray > 127.5 {
				vals[y*w+x] = 1.0
			}
		}
	}

	return ts.MustOfSlice(vals).MustView([]int64{1, int64(h), int64(w)}, true)
}

// normalizeImage maps 0..255 pixel values to the (-1.6, 1.6) feature range
// the model is trained on.
func normalizeImage(x *ts.Tensor) *ts.Tensor {
	return x.MustDiv1(ts.FloatScalar(255.0), true).
		MustMul1(ts.FloatScalar(3.2), true).
		MustAdd1(ts.FloatScalar(-1.6), true)
}

// toGrayScale converts RGB values to gray scale.
// Ref. https://en.wikipedia.org/wiki/Grayscale#Luma_coding_in_video_systems
func toGrayScale(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// rgbToHSV converts 0..255 RGB to hue (0..360), saturation (0..1) and
// value (0..255).
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	v = max
	d := max - min
	if max > 0 {
		s = d / max
	}
	if d == 0 {
		return 0, s, v
	}

	switch max {
	case r:
		h = 60 * math.Mod((g-b)/d, 6)
	case g:
		h = 60 * ((b-r)/d + 2)
	default:
		h = 60 * ((r-g)/d + 4)
	}
	if h < 0 {
		h += 360
	}

	return h, s, v
}

// hsvToRGB converts back to 0..255 RGB.
func hsvToRGB(h, s, v float64) (r, g, b float64) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return r + m, g + m, b + m
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// randomHSV shifts hue, saturation and value of the whole image by one
// random offset each, drawn from the given symmetric limits.
func randomHSV(rng *rand.Rand, img image.Image, hueLimit, satLimit, valLimit float64) image.Image {
	hueShift := (rng.Float64()*2 - 1) * hueLimit
	satShift := (rng.Float64()*2 - 1) * satLimit / 255.0
	valShift := (rng.Float64()*2 - 1) * valLimit

	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			h, s, v := rgbToHSV(float64(r>>8), float64(g>>8), float64(bl>>8))
			h = math.Mod(h+hueShift+360, 360)
			s = math.Max(0, math.Min(1, s+satShift))
			v = v + valShift
			nr, ng, nb := hsvToRGB(h, s, v)
			out.SetNRGBA(x, y, color.NRGBA{R: clamp255(nr), G: clamp255(ng), B: clamp255(nb), A: 255})
		}
	}

	return out
}

// randomShiftScale warps image and mask with one random shift, scale and
// aspect perturbation. The source window is shifted and stretched, then
// resampled back to the original size: bilinear for the image, nearest for
// the mask so it stays binary.
func randomShiftScale(rng *rand.Rand, img, mask image.Image, limit float64) (image.Image, image.Image) {
	b := img.Bounds()
	w := float64(b.Dx())
	h := float64(b.Dy())

	scale := 1 + (rng.Float64()*2-1)*limit
	aspect := 1 + (rng.Float64()*2-1)*limit
	shiftX := (rng.Float64()*2 - 1) * limit * w
	shiftY := (rng.Float64()*2 - 1) * limit * h

	srcW := w * scale * aspect
	srcH := h * scale / aspect
	x0 := (w-srcW)/2 + shiftX
	y0 := (h-srcH)/2 + shiftY

	src := image.Rect(int(x0), int(y0), int(x0+srcW), int(y0+srcH))

	outImg := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.BiLinear.Scale(outImg, outImg.Bounds(), img, src, xdraw.Over, nil)

	outMask := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.NearestNeighbor.Scale(outMask, outMask.Bounds(), mask, src, xdraw.Over, nil)

	return outImg, outMask
}

// randomOrientation applies the same random flip/rotation draw to image
// and mask.
func randomOrientation(rng *rand.Rand, img, mask image.Image) (image.Image, image.Image) {
	if rng.Float64() < 0.5 {
		img = imaging.FlipH(img)
		mask = imaging.FlipH(mask)
	}
	if rng.Float64() < 0.5 {
		img = imaging.FlipV(img)
		mask = imaging.FlipV(mask)
	}
	if rng.Float64() < 0.5 {
		img = imaging.Rotate90(img)
		mask = imaging.Rotate90(mask)
	}

	return img, mask
}

// augment runs the full training-time augmentation chain.
func augment(rng *rand.Rand, img, mask image.Image) (image.Image, image.Image) {
	img = randomHSV(rng, img, 30, 5, 15)
	img, mask = randomShiftScale(rng, img, mask, 0.1)
	img, mask = randomOrientation(rng, img, mask)

	return img, mask
}
