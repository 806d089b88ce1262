package processor

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/tiff"

	// Register decoders for the remaining formats.
	_ "golang.org/x/image/webp"

	"github.com/greut/iiifcache/geometry"
	"github.com/greut/iiifcache/operation"
)

func init() {
	Register("go", func(options map[string]interface{}) (Processor, error) {
		return NewGoProcessor(options)
	})
}

// GoOptions configures the pure Go processor.
type GoOptions struct {
	// Quality is the default JPEG quality, overridden by the "quality"
	// option of an operation list.
	Quality int `mapstructure:"quality"`
	// TileSize is advertised in the info records.
	TileSize int `mapstructure:"tileSize"`
}

// GoProcessor relies on the standard image packages and golang.org/x/image.
// It needs no native library but does not write webp nor copy metadata.
type GoProcessor struct {
	options GoOptions
}

// NewGoProcessor decodes the options into a processor.
func NewGoProcessor(options map[string]interface{}) (*GoProcessor, error) {
	opts := GoOptions{Quality: jpeg.DefaultQuality, TileSize: 512}
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("processor: go options: %w", err)
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return nil, fmt.Errorf("processor: go quality %d is not within [1, 100]", opts.Quality)
	}
	return &GoProcessor{options: opts}, nil
}

var goDecoders = map[string]operation.Format{
	"jpeg": operation.JPG,
	"png":  operation.PNG,
	"gif":  operation.GIF,
	"bmp":  operation.BMP,
	"tiff": operation.TIF,
	"webp": operation.WEBP,
}

var goEncoders = []operation.Format{
	operation.JPG,
	operation.PNG,
	operation.GIF,
	operation.TIF,
	operation.BMP,
}

// AvailableOutputFormats returns the encodable formats for any decodable
// source.
func (p *GoProcessor) AvailableOutputFormats(source operation.Format) []operation.Format {
	for _, f := range goDecoders {
		if f == source {
			formats := make([]operation.Format, len(goEncoders))
			copy(formats, goEncoders)
			return formats
		}
	}
	return nil
}

// ReadInfo decodes the image header only.
func (p *GoProcessor) ReadInfo(ctx context.Context, src io.Reader) (Info, error) {
	config, name, err := image.DecodeConfig(src)
	if err != nil {
		return Info{}, UnsupportedFormatError{}
	}
	format, ok := goDecoders[name]
	if !ok {
		return Info{}, UnsupportedFormatError{}
	}
	return Info{
		Width:      config.Width,
		Height:     config.Height,
		TileWidth:  min(p.options.TileSize, config.Width),
		TileHeight: min(p.options.TileSize, config.Height),
		Format:     format,
	}, nil
}

// Process decodes src, applies ops in order and encodes into dst.
func (p *GoProcessor) Process(ctx context.Context, ops *operation.List, info Info, src io.Reader, dst io.Writer) error {
	if !Supports(p, info.Format, ops.Format()) {
		return UnsupportedFormatError{Format: ops.Format(), Source: info.Format}
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("processor: decoding %v: %w", ops.Identifier(), err)
	}

	canvas := toRGBA(img)
	full := info.Size()
	if b := canvas.Bounds(); b.Dx() != info.Width || b.Dy() != info.Height {
		full = geometry.NewDimension(float64(b.Dx()), float64(b.Dy()))
	}
	origin := geometry.Rectangle{Width: full.Width, Height: full.Height}

	for _, op := range ops.Operations() {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := geometry.NewDimension(float64(canvas.Bounds().Dx()), float64(canvas.Bounds().Dy()))
		switch o := op.(type) {
		case operation.Crop:
			region := o.Rectangle(size)
			canvas = crop(canvas, region)
			origin = region.Move(origin.X, origin.Y)
		case operation.Redaction:
			redact(canvas, o.Region.Move(-origin.X, -origin.Y))
		case operation.Scale:
			canvas = scale(canvas, o.ResultingSize(size))
		case operation.Rotate:
			canvas = rotate(canvas, o)
		case operation.ColorTransform:
			canvas = transformColor(canvas, o.Color)
		case operation.Overlay:
			if o.IsNoOp() {
				continue
			}
			if err := overlay(canvas, o); err != nil {
				return err
			}
		case operation.MetadataCopy:
			// The bundled encoders write no metadata.
		default:
			return UnsupportedError{"go", fmt.Sprintf("cannot apply %v", op)}
		}
	}

	return p.encode(ops, canvas, dst)
}

func (p *GoProcessor) encode(ops *operation.List, img image.Image, dst io.Writer) error {
	switch ops.Format() {
	case operation.JPG:
		quality := p.options.Quality
		if q, ok := ops.Options()["quality"]; ok {
			if n, err := strconv.Atoi(q); err == nil && n >= 1 && n <= 100 {
				quality = n
			}
		}
		return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
	case operation.PNG:
		return png.Encode(dst, img)
	case operation.GIF:
		return gif.Encode(dst, img, nil)
	case operation.TIF:
		return tiff.Encode(dst, img, &tiff.Options{Compression: tiff.Deflate})
	case operation.BMP:
		return bmp.Encode(dst, img)
	}
	return UnsupportedFormatError{Format: ops.Format()}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

func crop(img *image.RGBA, region geometry.Rectangle) *image.RGBA {
	x, y, w, h := region.IntBounds()
	r := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if r == img.Bounds() {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

func redact(img *image.RGBA, region geometry.Rectangle) {
	x, y, w, h := region.IntBounds()
	r := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(img, r, image.Black, image.Point{}, draw.Src)
}

func scale(img *image.RGBA, size geometry.Dimension) *image.RGBA {
	w, h := size.IntWidth(), size.IntHeight()
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

func rotate(img *image.RGBA, r operation.Rotate) *image.RGBA {
	if r.Mirror {
		img = mirror(img)
	}
	if r.Degrees == 0 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	size := r.ResultingSize(geometry.NewDimension(float64(w), float64(h)))

	if r.IsRightAngle() {
		out := image.NewRGBA(image.Rect(0, 0, size.IntWidth(), size.IntHeight()))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := img.RGBAAt(x, y)
				switch r.Degrees {
				case 90:
					out.SetRGBA(h-1-y, x, c)
				case 180:
					out.SetRGBA(w-1-x, h-1-y, c)
				case 270:
					out.SetRGBA(y, w-1-x, c)
				}
			}
		}
		return out
	}

	out := image.NewRGBA(image.Rect(0, 0, size.IntWidth(), size.IntHeight()))
	rad := r.Degrees * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	sx, sy := float64(w)/2, float64(h)/2
	dx, dy := float64(out.Bounds().Dx())/2, float64(out.Bounds().Dy())/2

	// Source to destination: rotate clockwise around the centers.
	s2d := f64.Aff3{
		cos, -sin, dx - cos*sx + sin*sy,
		sin, cos, dy - sin*sx - cos*sy,
	}
	draw.BiLinear.Transform(out, s2d, img, b, draw.Src, nil)
	return out
}

func mirror(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetRGBA(b.Dx()-1-x, y, img.RGBAAt(x, y))
		}
	}
	return out
}

func transformColor(img *image.RGBA, c operation.Color) *image.RGBA {
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)

	if c == operation.Bitonal {
		for i, v := range gray.Pix {
			if v < 128 {
				gray.Pix[i] = 0
			} else {
				gray.Pix[i] = 255
			}
		}
	}

	out := image.NewRGBA(b)
	draw.Draw(out, b, gray, b.Min, draw.Src)
	return out
}

func overlay(img *image.RGBA, o operation.Overlay) error {
	f, err := os.Open(o.Image)
	if err != nil {
		return fmt.Errorf("processor: overlay: %w", err)
	}
	defer f.Close()

	mark, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("processor: overlay %v: %w", o.Image, err)
	}

	b := img.Bounds()
	m := mark.Bounds()
	inset := o.Inset

	if o.Position == operation.Repeat {
		for y := 0; y < b.Dy(); y += m.Dy() {
			for x := 0; x < b.Dx(); x += m.Dx() {
				r := image.Rect(x, y, x+m.Dx(), y+m.Dy())
				draw.Draw(img, r, mark, m.Min, draw.Over)
			}
		}
		return nil
	}

	var at image.Point
	switch o.Position {
	case operation.TopLeft:
		at = image.Pt(inset, inset)
	case operation.TopRight:
		at = image.Pt(b.Dx()-m.Dx()-inset, inset)
	case operation.BottomLeft:
		at = image.Pt(inset, b.Dy()-m.Dy()-inset)
	case operation.BottomRight:
		at = image.Pt(b.Dx()-m.Dx()-inset, b.Dy()-m.Dy()-inset)
	default:
		at = image.Pt((b.Dx()-m.Dx())/2, (b.Dy()-m.Dy())/2)
	}

	draw.Draw(img, m.Sub(m.Min).Add(at), mark, m.Min, draw.Over)
	return nil
}
