package iiif

import (
	"math"
	"strconv"
	"strings"

	"github.com/greut/iiifcache/operation"
)

// Parser turns the IIIF URI segments into an operation list. It is a pure
// function of its inputs and of the limits it was built with.
type Parser struct {
	// Version is the IIIF Image API major version: 1, 2 or 3.
	Version int
	// Limits bound the sizes a client may request.
	Limits operation.Limits
}

// NewParser builds a parser for an API version.
func NewParser(version int, limits operation.Limits) *Parser {
	return &Parser{Version: version, Limits: limits}
}

var defaultParser = NewParser(2, operation.Limits{})

// ParseRequest parses an IIIF 2.1 request without size limits.
func ParseRequest(identifier, region, size, rotation, qualityFormat string) (*operation.List, error) {
	return defaultParser.ParseRequest(identifier, region, size, rotation, qualityFormat)
}

// ParseRequest parses the region, size, rotation and quality.format
// segments of a request for identifier.
func (p *Parser) ParseRequest(identifier, region, size, rotation, qualityFormat string) (*operation.List, error) {
	quality, format, err := p.parseQualityFormat(qualityFormat)
	if err != nil {
		return nil, err
	}

	crop, err := p.parseRegion(region)
	if err != nil {
		return nil, err
	}

	scale, err := p.parseSize(size)
	if err != nil {
		return nil, err
	}

	rotate, err := p.parseRotation(rotation)
	if err != nil {
		return nil, err
	}

	ops := []operation.Operation{crop, scale, rotate}
	if quality != nil {
		ops = append(ops, quality)
	}
	return operation.NewList(operation.Identifier(identifier), format, ops...), nil
}

func (p *Parser) error(component, value, reason string) ParseError {
	return ParseError{Version: p.Version, Component: component, Value: value, Reason: reason}
}

// Region
// ------
// full
// square
// x,y,w,h (in pixels)
// pct:x,y,w,h (in percents)
func (p *Parser) parseRegion(region string) (operation.Crop, error) {
	switch region {
	case "full":
		return operation.NewFullCrop(), nil
	case "square":
		if p.Version == 1 {
			return operation.Crop{}, p.error("region", region, "square regions appeared in 2.1")
		}
		return operation.NewSquareCrop(), nil
	}

	isPercent := strings.HasPrefix(region, "pct:")
	values := strings.Split(strings.TrimPrefix(region, "pct:"), ",")
	if len(values) != 4 {
		return operation.Crop{}, p.error("region", region, "four values are expected")
	}

	var (
		crop operation.Crop
		err  error
	)
	if isPercent {
		var f [4]float64
		for i, v := range values {
			f[i], err = strconv.ParseFloat(v, 64)
			if err != nil {
				return operation.Crop{}, p.error("region", region, "values must be numbers")
			}
		}
		crop, err = operation.NewPercentCrop(f[0]/100, f[1]/100, f[2]/100, f[3]/100)
	} else {
		var n [4]int
		for i, v := range values {
			n[i], err = parsePixels(v)
			if err != nil {
				return operation.Crop{}, p.error("region", region, "values must be non-negative integers")
			}
		}
		crop, err = operation.NewPixelCrop(float64(n[0]), float64(n[1]), float64(n[2]), float64(n[3]))
	}
	if err != nil {
		return operation.Crop{}, p.error("region", region, err.Error())
	}
	return crop, nil
}

// Size
// ----
// max, full
// w,h (deform)
// !w,h (best fit within size)
// w, (force width)
// ,h (force height)
// pct:n (scale the image of the extracted region in %)
func (p *Parser) parseSize(size string) (operation.Scale, error) {
	switch size {
	case "full":
		if p.Version >= 3 {
			return operation.Scale{}, p.error("size", size, "use max")
		}
		return operation.NewMaxScale(p.Limits), nil
	case "max":
		return operation.NewMaxScale(p.Limits), nil
	}

	if strings.HasPrefix(size, "^") {
		return operation.Scale{}, p.error("size", size, "upscaling is not supported")
	}

	if strings.HasPrefix(size, "pct:") {
		pct, err := strconv.ParseFloat(size[4:], 64)
		if err != nil || math.IsNaN(pct) || pct <= 0 || pct > 100 {
			return operation.Scale{}, p.error("size", size, "percent must be within (0, 100]")
		}
		scale, err := operation.NewPercentScale(pct / 100)
		if err != nil {
			return operation.Scale{}, p.error("size", size, err.Error())
		}
		return scale, nil
	}

	best := strings.HasPrefix(size, "!")
	sizes := strings.Split(strings.TrimPrefix(size, "!"), ",")
	if len(sizes) != 2 {
		return operation.Scale{}, p.error("size", size, "")
	}

	var width, height int
	var err error
	if sizes[0] != "" {
		if width, err = parsePixels(sizes[0]); err != nil || width == 0 {
			return operation.Scale{}, p.error("size", size, "width must be a positive integer")
		}
	}
	if sizes[1] != "" {
		if height, err = parsePixels(sizes[1]); err != nil || height == 0 {
			return operation.Scale{}, p.error("size", size, "height must be a positive integer")
		}
	}

	if !p.Limits.Allows(width, height) {
		return operation.Scale{}, p.error("size", size, "out of the size limits")
	}

	var scale operation.Scale
	switch {
	case width == 0 && height == 0:
		return operation.Scale{}, p.error("size", size, "")
	case best && (width == 0 || height == 0):
		return operation.Scale{}, p.error("size", size, "!w,h requires both values")
	case best:
		scale, err = operation.NewScaleToFit(width, height)
	case height == 0:
		scale, err = operation.NewScaleToWidth(width)
	case width == 0:
		scale, err = operation.NewScaleToHeight(height)
	default:
		scale, err = operation.NewScaleToFill(width, height)
	}
	if err != nil {
		return operation.Scale{}, p.error("size", size, err.Error())
	}
	return scale, nil
}

// Rotation
// --------
// n angle clockwise in degrees
// !n angle clockwise in degrees with a flip (beforehand)
func (p *Parser) parseRotation(rotation string) (operation.Rotate, error) {
	mirror := strings.HasPrefix(rotation, "!")
	degrees, err := strconv.ParseFloat(strings.TrimPrefix(rotation, "!"), 64)
	if err != nil {
		return operation.Rotate{}, p.error("rotation", rotation, "")
	}

	rotate, err := operation.NewRotate(degrees, mirror)
	if err != nil {
		return operation.Rotate{}, p.error("rotation", rotation, err.Error())
	}
	return rotate, nil
}

var qualities = map[int]map[string]operation.Operation{
	1: {
		"native":  nil,
		"color":   nil,
		"grey":    operation.ColorTransform{Color: operation.Gray},
		"bitonal": operation.ColorTransform{Color: operation.Bitonal},
	},
	2: {
		"default": nil,
		"color":   nil,
		"gray":    operation.ColorTransform{Color: operation.Gray},
		"bitonal": operation.ColorTransform{Color: operation.Bitonal},
	},
}

// Quality
// -------
// default, color, gray, bitonal (native and grey in 1.1)
func (p *Parser) parseQualityFormat(qualityFormat string) (operation.Operation, operation.Format, error) {
	i := strings.LastIndex(qualityFormat, ".")
	if i < 0 {
		return nil, operation.Unknown, p.error("quality", qualityFormat, "quality.format is expected")
	}
	quality, ext := qualityFormat[:i], qualityFormat[i+1:]

	version := 2
	if p.Version == 1 {
		version = 1
	}
	op, ok := qualities[version][quality]
	if !ok {
		return nil, operation.Unknown, p.error("quality", quality, "")
	}

	format, ok := operation.ParseFormat(ext)
	if !ok || ext != strings.ToLower(ext) {
		return nil, operation.Unknown, p.error("format", ext, "")
	}
	return op, format, nil
}

// parsePixels accepts unsigned decimal integers only.
func parsePixels(s string) (int, error) {
	n, err := strconv.ParseUint(s, 10, 31)
	return int(n), err
}
