// Package vips is the libvips processor, through bimg.
package vips

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/ioutil"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/h2non/bimg.v1"

	"github.com/greut/iiifcache/geometry"
	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
)

func init() {
	processor.Register("vips", func(options map[string]interface{}) (processor.Processor, error) {
		return New(options)
	})
}

// error messages
var rotationMissing = "cannot rotate angle that isn't a multiple of 90: %v"
var bitonalMissing = "cannot produce bitonal images as of yet"

// Options configures the libvips processor.
type Options struct {
	Quality  int `mapstructure:"quality"`
	TileSize int `mapstructure:"tileSize"`
}

// Processor wraps bimg.
type Processor struct {
	options Options
}

// New decodes the options into a processor.
func New(options map[string]interface{}) (*Processor, error) {
	opts := Options{Quality: 90, TileSize: 512}
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("vips: options: %w", err)
	}
	return &Processor{options: opts}, nil
}

var bimgTypes = map[operation.Format]bimg.ImageType{
	operation.JPG:  bimg.JPEG,
	operation.PNG:  bimg.PNG,
	operation.GIF:  bimg.GIF,
	operation.TIF:  bimg.TIFF,
	operation.WEBP: bimg.WEBP,
	operation.PDF:  bimg.PDF,
	operation.JP2:  bimg.MAGICK,
}

func formatOf(t bimg.ImageType) operation.Format {
	for f, bt := range bimgTypes {
		if bt == t {
			return f
		}
	}
	return operation.Unknown
}

// AvailableOutputFormats lists what libvips can save, when it can read
// the source.
func (p *Processor) AvailableOutputFormats(source operation.Format) []operation.Format {
	t, ok := bimgTypes[source]
	if !ok || !bimg.IsTypeSupported(t) {
		return nil
	}

	var formats []operation.Format
	for _, f := range []operation.Format{operation.JPG, operation.PNG, operation.GIF, operation.TIF, operation.WEBP} {
		if bimg.IsTypeSupportedSave(bimgTypes[f]) {
			formats = append(formats, f)
		}
	}
	return formats
}

// ReadInfo loads the source and reads its size.
func (p *Processor) ReadInfo(ctx context.Context, src io.Reader) (processor.Info, error) {
	buffer, err := ioutil.ReadAll(src)
	if err != nil {
		return processor.Info{}, err
	}

	imageType := bimg.DetermineImageType(buffer)
	if !bimg.IsTypeSupported(imageType) {
		return processor.Info{}, processor.UnsupportedFormatError{Source: formatOf(imageType)}
	}

	size, err := bimg.NewImage(buffer).Size()
	if err != nil {
		return processor.Info{}, fmt.Errorf("libvips cannot open this file: %w", err)
	}

	return processor.Info{
		Width:      size.Width,
		Height:     size.Height,
		TileWidth:  min(p.options.TileSize, size.Width),
		TileHeight: min(p.options.TileSize, size.Height),
		Format:     formatOf(imageType),
	}, nil
}

// Process applies the operations one by one on a bimg.Image.
func (p *Processor) Process(ctx context.Context, ops *operation.List, info processor.Info, src io.Reader, dst io.Writer) error {
	if !processor.Supports(p, info.Format, ops.Format()) {
		return processor.UnsupportedFormatError{Format: ops.Format(), Source: info.Format}
	}

	buffer, err := ioutil.ReadAll(src)
	if err != nil {
		return err
	}

	img := bimg.NewImage(buffer)
	copyMetadata := false
	var originX, originY int

	for _, op := range ops.Operations() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if op.IsNoOp() {
			continue
		}

		size, err := img.Size()
		if err != nil {
			return err
		}

		switch o := op.(type) {
		case operation.Crop:
			x, y, w, h := o.Rectangle(dimension(size)).IntBounds()
			if _, err := img.Extract(y, x, w, h); err != nil {
				return bimgError(err)
			}
			originX += x
			originY += y
		case operation.Redaction:
			err = redact(img, size, o, originX, originY)
		case operation.Scale:
			target := o.ResultingSize(dimension(size))
			if !target.PixelEqual(dimension(size)) {
				_, err = img.ForceResize(target.IntWidth(), target.IntHeight())
			}
		case operation.Rotate:
			err = rotate(img, o)
		case operation.ColorTransform:
			if o.Color == operation.Bitonal {
				return processor.UnsupportedError{Processor: "libvips", Message: bitonalMissing}
			}
			_, err = img.Colourspace(bimg.InterpretationBW)
		case operation.Overlay:
			err = overlay(img, size, o)
		case operation.MetadataCopy:
			copyMetadata = true
		}
		if err != nil {
			return bimgError(err)
		}
	}

	quality := p.options.Quality
	if q, ok := ops.Options()["quality"]; ok {
		fmt.Sscanf(q, "%d", &quality)
	}

	out, err := img.Process(bimg.Options{
		Type:          bimgTypes[ops.Format()],
		Quality:       quality,
		StripMetadata: !copyMetadata,
	})
	if err != nil {
		return bimgError(err)
	}

	_, err = dst.Write(out)
	return err
}

func rotate(img *bimg.Image, r operation.Rotate) error {
	if !r.IsRightAngle() {
		return processor.UnsupportedError{Processor: "libvips", Message: fmt.Sprintf(rotationMissing, r.Degrees)}
	}
	if r.Mirror {
		if _, err := img.Flop(); err != nil {
			return err
		}
	}
	if r.Degrees != 0 {
		if _, err := img.Rotate(bimg.Angle(int(r.Degrees))); err != nil {
			return err
		}
	}
	return nil
}

// redact stamps an opaque black rectangle, the region being given in
// full image coordinates.
func redact(img *bimg.Image, size bimg.ImageSize, r operation.Redaction, originX, originY int) error {
	x, y, w, h := r.Region.IntBounds()
	bounds := image.Rect(x-originX, y-originY, x-originX+w, y-originY+h).Intersect(image.Rect(0, 0, size.Width, size.Height))
	if bounds.Empty() {
		return nil
	}

	black := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	var buf bytes.Buffer
	if err := png.Encode(&buf, black); err != nil {
		return err
	}

	_, err := img.WatermarkImage(bimg.WatermarkImage{
		Left:    bounds.Min.X,
		Top:     bounds.Min.Y,
		Buf:     buf.Bytes(),
		Opacity: 1,
	})
	return err
}

func overlay(img *bimg.Image, size bimg.ImageSize, o operation.Overlay) error {
	buf, err := bimg.Read(o.Image)
	if err != nil {
		return err
	}
	mark, err := bimg.NewImage(buf).Size()
	if err != nil {
		return err
	}

	stamp := func(left, top int) error {
		_, err := img.WatermarkImage(bimg.WatermarkImage{Left: left, Top: top, Buf: buf, Opacity: 1})
		return err
	}

	inset := o.Inset
	switch o.Position {
	case operation.TopLeft:
		return stamp(inset, inset)
	case operation.TopRight:
		return stamp(size.Width-mark.Width-inset, inset)
	case operation.BottomLeft:
		return stamp(inset, size.Height-mark.Height-inset)
	case operation.BottomRight:
		return stamp(size.Width-mark.Width-inset, size.Height-mark.Height-inset)
	case operation.Repeat:
		for top := 0; top+mark.Height <= size.Height; top += mark.Height {
			for left := 0; left+mark.Width <= size.Width; left += mark.Width {
				if err := stamp(left, top); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return stamp((size.Width-mark.Width)/2, (size.Height-mark.Height)/2)
	}
}

func dimension(size bimg.ImageSize) geometry.Dimension {
	return geometry.NewDimension(float64(size.Width), float64(size.Height))
}

func bimgError(err error) error {
	switch err.(type) {
	case processor.UnsupportedError, processor.UnsupportedFormatError:
		return err
	}
	return fmt.Errorf("bimg couldn't process the image: %w", err)
}
