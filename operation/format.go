package operation

import (
	"path"
	"strings"
)

// Identifier names a source image. Equality is exact string equality.
type Identifier string

func (id Identifier) String() string {
	return string(id)
}

// Format is an image format named by its preferred extension.
type Format string

// Known formats.
const (
	Unknown Format = ""
	JPG     Format = "jpg"
	PNG     Format = "png"
	GIF     Format = "gif"
	TIF     Format = "tif"
	WEBP    Format = "webp"
	BMP     Format = "bmp"
	JP2     Format = "jp2"
	PDF     Format = "pdf"
)

var formatAliases = map[string]Format{
	"jpg":  JPG,
	"jpeg": JPG,
	"png":  PNG,
	"gif":  GIF,
	"tif":  TIF,
	"tiff": TIF,
	"webp": WEBP,
	"bmp":  BMP,
	"jp2":  JP2,
	"pdf":  PDF,
}

var mediaTypes = map[Format]string{
	JPG:  "image/jpeg",
	PNG:  "image/png",
	GIF:  "image/gif",
	TIF:  "image/tiff",
	WEBP: "image/webp",
	BMP:  "image/bmp",
	JP2:  "image/jp2",
	PDF:  "application/pdf",
}

// ParseFormat maps an extension (with or without a leading dot, any case)
// to a known format.
func ParseFormat(ext string) (Format, bool) {
	f, ok := formatAliases[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return f, ok
}

// InferFormat guesses the format of an identifier from its extension.
func InferFormat(id Identifier) Format {
	f, _ := ParseFormat(path.Ext(string(id)))
	return f
}

// Extension returns the preferred file extension, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// MediaType returns the IANA media type.
func (f Format) MediaType() string {
	if t, ok := mediaTypes[f]; ok {
		return t
	}
	return "application/octet-stream"
}

func (f Format) String() string {
	return string(f)
}
