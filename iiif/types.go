package iiif

// ImageProfile lists what the server can do with an image: the output
// formats of its processor, the qualities of the API version and the size
// limits.
type ImageProfile struct {
	Context   string   `json:"@context,omitempty"`
	ID        string   `json:"@id,omitempty"`
	Type      string   `json:"@type,omitempty"`
	Formats   []string `json:"formats"`
	Qualities []string `json:"qualities"`
	Supports  []string `json:"supports,omitempty"`
	MaxWidth  int      `json:"maxWidth,omitempty"`
	MaxHeight int      `json:"maxHeight,omitempty"`
	MaxArea   int      `json:"maxArea,omitempty"`
}

// Size is a downscaled rendition the server advertises.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Tile is a tiling scheme; a zero height means square tiles.
type Tile struct {
	Width        int   `json:"width"`
	Height       int   `json:"height,omitempty"`
	ScaleFactors []int `json:"scaleFactors"`
}

// Image is the info.json document.
type Image struct {
	Context  string        `json:"@context"`
	ID       string        `json:"@id"`
	Type     string        `json:"@type,omitempty"`
	Protocol string        `json:"protocol"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Profile  []interface{} `json:"profile"`
	Sizes    []Size        `json:"sizes,omitempty"`
	Tiles    []Tile        `json:"tiles,omitempty"`
}

// apiVersion holds what differs in the info.json of each API version.
type apiVersion struct {
	Context   string
	Level     string
	Qualities []string
}

var apiVersions = map[int]apiVersion{
	1: {
		"http://library.stanford.edu/iiif/image-api/1.1/context.json",
		"http://library.stanford.edu/iiif/image-api/1.1/compliance.html#level2",
		[]string{"native", "color", "grey", "bitonal"},
	},
	2: {
		"http://iiif.io/api/image/2/context.json",
		"http://iiif.io/api/image/2/level2.json",
		[]string{"default", "color", "gray", "bitonal"},
	},
	3: {
		"http://iiif.io/api/image/3/context.json",
		"level2",
		[]string{"default", "color", "gray", "bitonal"},
	},
}
