// Package extract locates a projected laser line in a camera frame with
// subpixel row precision.
//
// The pipeline is grayscale (ITU-R 601 luma), separable Gaussian blur with
// reflect-101 borders, a strict brightness threshold and an intensity
// weighted centroid per image column.
package extract

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

const (
	DefaultBlurKernel = 7
	DefaultThreshold  = 200
)

// Sample is the laser centroid found in one image column.
type Sample struct {
	Column int
	Row    float64
}

// Observation holds samples in strictly increasing column order. Columns
// without signal are absent, so gaps are expected.
type Observation []Sample

// Config tunes an Extractor.
type Config struct {
	BlurKernel int // odd, positive
	Threshold  int // 0..255, pixels must be strictly brighter
}

// DefaultConfig returns kernel 7 and threshold 200.
func DefaultConfig() Config {
	return Config{BlurKernel: DefaultBlurKernel, Threshold: DefaultThreshold}
}

// ConfigFrom copies the extractor section of a session config.
func ConfigFrom(c *config.ExtractorConfig) Config {
	return Config{BlurKernel: c.GetBlurKernel(), Threshold: c.GetThreshold()}
}

// Validate reports a config.ErrInvalid error for unusable settings.
func (c Config) Validate() error {
	if c.BlurKernel <= 0 || c.BlurKernel%2 == 0 {
		return config.Invalidf("blur kernel must be a positive odd integer, got %d", c.BlurKernel)
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return config.Invalidf("threshold must be between 0 and 255, got %d", c.Threshold)
	}
	return nil
}

// Extractor is immutable after construction and safe for concurrent use.
type Extractor struct {
	cfg    Config
	kernel []float64
	log    monitoring.Logger
}

// New validates cfg and precomputes the blur kernel.
func New(cfg Config, logger monitoring.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:    cfg,
		kernel: gaussianKernel(cfg.BlurKernel),
		log:    monitoring.OrDiscard(logger),
	}, nil
}

// Config returns the settings the extractor was built with.
func (e *Extractor) Config() Config { return e.cfg }

// Extract returns the laser line observed in img. An image without any pixel
// above threshold yields an empty observation.
func (e *Extractor) Extract(img image.Image) Observation {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		e.log.Tracef("empty frame %dx%d", w, h)
		return Observation{}
	}

	gray := luma(img)
	blurred := blur(gray, w, h, e.kernel)

	thr := uint8(e.cfg.Threshold)
	obs := make(Observation, 0, w)
	for x := 0; x < w; x++ {
		var sum, weighted float64
		for y := 0; y < h; y++ {
			v := blurred[y*w+x]
			if v <= thr {
				continue
			}
			sum += float64(v)
			weighted += float64(y) * float64(v)
		}
		if sum == 0 {
			continue
		}
		obs = append(obs, Sample{Column: x, Row: weighted / sum})
	}

	if len(obs) == 0 {
		e.log.Tracef("no laser points above threshold %d in %dx%d frame", e.cfg.Threshold, w, h)
	}
	return obs
}

// luma returns the 8-bit grayscale plane of img in row-major order.
func luma(img image.Image) []uint8 {
	g := imaging.Grayscale(img)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w*4]
		for x := 0; x < w; x++ {
			out[y*w+x] = row[x*4]
		}
	}
	return out
}

// gaussianKernel builds a normalized 1-D kernel of size k with
// sigma = 0.3*((k-1)*0.5-1)+0.8.
func gaussianKernel(k int) []float64 {
	sigma := 0.3*((float64(k)-1)*0.5-1) + 0.8
	half := k / 2
	kernel := make([]float64, k)
	var sum float64
	for i := range kernel {
		x := float64(i - half)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflect101 maps an out-of-range index into [0, n) mirroring about the edge
// pixel without repeating it: -1 -> 1, n -> n-2.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// blur applies the separable kernel horizontally then vertically and rounds
// the result back to 8 bits.
func blur(src []uint8, w, h int, kernel []float64) []uint8 {
	half := len(kernel) / 2
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, kv := range kernel {
				acc += kv * float64(src[y*w+reflect101(x+k-half, w)])
			}
			tmp[y*w+x] = acc
		}
	}

	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, kv := range kernel {
				acc += kv * tmp[reflect101(y+k-half, h)*w+x]
			}
			out[y*w+x] = clamp8(acc)
		}
	}
	return out
}

func clamp8(v float64) uint8 {
	r := math.Round(v)
	switch {
	case r < 0:
		return 0
	case r > 255:
		return 255
	}
	return uint8(r)
}
