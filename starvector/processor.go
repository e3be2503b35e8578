package starvector

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/pdevine/tensor"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageError marks a failure caused by the request payload rather than the
// model: undecodable base64 or bytes that are not a supported raster image.
type ImageError struct {
	Err error
}

func (e *ImageError) Error() string { return fmt.Sprintf("invalid image: %v", e.Err) }
func (e *ImageError) Unwrap() error { return e.Err }

// DecodeImage decodes a base64 image payload. A leading data URL prefix
// ("data:image/png;base64,") is tolerated since browser canvases produce it.
func DecodeImage(encoded string) ([]byte, error) {
	if _, after, ok := strings.Cut(encoded, ";base64,"); ok {
		encoded = after
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &ImageError{Err: err}
	}

	return data, nil
}

// Processor converts a raw raster image into the fixed-shape pixel tensor
// the vision encoder expects: 3 x size x size, channel-planar, normalized
// with the CLIP mean and standard deviation.
type Processor struct {
	size      int
	mean, std [3]float32
}

// clip normalization constants, the upstream defaults
var (
	defaultMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	defaultStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

const defaultImageSize = 224

func DefaultProcessor() *Processor {
	return &Processor{size: defaultImageSize, mean: defaultMean, std: defaultStd}
}

type processorConfig struct {
	Size      json.Number `json:"size"`
	CropSize  json.Number `json:"crop_size"`
	ImageMean []float32   `json:"image_mean"`
	ImageStd  []float32   `json:"image_std"`
}

// LoadProcessor builds a Processor from the checkpoint's
// preprocessor_config.json. A missing file yields the defaults; a present
// but unparseable file is an error since silently wrong normalization
// produces garbage generations with no diagnostic.
func LoadProcessor(path string) (*Processor, error) {
	p := DefaultProcessor()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	} else if err != nil {
		return nil, err
	}

	var config processorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, size := range []json.Number{config.CropSize, config.Size} {
		if n, err := size.Int64(); err == nil && n > 0 {
			p.size = int(n)
			break
		}
	}

	if len(config.ImageMean) == 3 {
		copy(p.mean[:], config.ImageMean)
	}
	if len(config.ImageStd) == 3 {
		copy(p.std[:], config.ImageStd)
	}

	return p, nil
}

// Size returns the side length of the square input the processor produces.
func (p *Processor) Size() int { return p.size }

// Process decodes imageData and returns the normalized pixel tensor with
// shape (3, size, size).
func (p *Processor) Process(imageData []byte) (*tensor.Dense, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, &ImageError{Err: err}
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.size, p.size))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)

	data := make([]float32, 3*p.size*p.size)
	plane := p.size * p.size
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()

			i := y*p.size + x
			data[i] = (float32(r>>8)/255.0 - p.mean[0]) / p.std[0]
			data[plane+i] = (float32(g>>8)/255.0 - p.mean[1]) / p.std[1]
			data[2*plane+i] = (float32(b>>8)/255.0 - p.mean[2]) / p.std[2]
		}
	}

	return tensor.New(tensor.WithShape(3, p.size, p.size), tensor.WithBacking(data)), nil
}
