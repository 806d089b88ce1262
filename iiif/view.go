package iiif

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
	"github.com/greut/iiifcache/source"
)

var supports = []string{
	"baseUriRedirect",
	"cors",
	"jsonldMediaType",
	"mirroring",
	"regionByPct",
	"regionByPx",
	"regionSquare",
	"rotationArbitrary",
	"rotationBy90s",
	"sizeByConfinedWh",
	"sizeByDistortedWh",
	"sizeByH",
	"sizeByPct",
	"sizeByW",
	"sizeByWh",
}

// identifier reads the unescaped identifier of the route.
func identifier(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.QueryUnescape(mux.Vars(r)["identifier"])
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("identifier cannot be unescaped")
		http.NotFound(w, r)
		return "", false
	}
	return source.ScrubIdentifier(operation.Identifier(id)), true
}

// baseURL honours the headers of a reverse proxy.
func baseURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if r.Header.Get("X-Forwarded-Proto") != "" {
		scheme = r.Header.Get("X-Forwarded-Proto")
	}

	host := r.Host
	if r.Header.Get("X-Forwarded-Host") != "" {
		host = r.Header.Get("X-Forwarded-Host")
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := toHTTPError(err)
	logger := zerolog.Ctx(r.Context())
	if e.StatusCode >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", e.StatusCode).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", e.StatusCode).Msg("request rejected")
	}
	http.Error(w, e.Error(), e.StatusCode)
}

// RedirectHandler responds to the image technical properties.
func RedirectHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identifier(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, fmt.Sprintf("%s/%s/info.json", baseURL(r), id), http.StatusSeeOther)
}

// InfoHandler responds to the image technical properties.
func InfoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identifier(w, r)
	if !ok {
		return
	}

	service := serviceFrom(r)
	info, err := service.Info(r.Context(), operation.Identifier(id))
	if err != nil {
		writeError(w, r, err)
		return
	}

	p := NewImage(service, fmt.Sprintf("%s/%s", baseURL(r), id), info)

	buffer, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		http.Error(w, "Cannot create profile", http.StatusInternalServerError)
		return
	}

	header := w.Header()

	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/ld+json") {
		header.Set("Content-Type", "application/ld+json")
	} else {
		header.Set("Content-Type", "application/json")
	}
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	header.Set("ETag", getETag(r.URL.String()))
	header.Set("Cache-Control", fmt.Sprintf("max-age=%v, public", int(service.MaxAge.Seconds())))
	http.ServeContent(w, r, "info.json", time.Time{}, bytes.NewReader(buffer))
}

// NewImage describes a source for the API version of the service.
func NewImage(service *Service, id string, info processor.Info) *Image {
	version, ok := apiVersions[service.Parser.Version]
	if !ok {
		version = apiVersions[2]
	}

	var formats []string
	for _, f := range service.Formats(info) {
		formats = append(formats, f.Extension())
	}

	limits := service.Parser.Limits
	image := &Image{
		Context:  version.Context,
		ID:       id,
		Type:     "iiif:Image",
		Protocol: "http://iiif.io/api/image",
		Width:    info.Width,
		Height:   info.Height,
		Profile: []interface{}{
			version.Level,
			&ImageProfile{
				Context:   version.Context,
				Type:      "iiif:ImageProfile",
				Formats:   formats,
				Qualities: version.Qualities,
				MaxWidth:  limits.MaxWidth,
				MaxHeight: limits.MaxHeight,
				MaxArea:   limits.MaxArea,
				Supports:  supports,
			},
		},
	}

	if info.TileWidth > 0 {
		factors := scaleFactors(info.Width, info.Height, info.TileWidth)
		image.Tiles = []Tile{{
			ScaleFactors: factors,
			Width:        info.TileWidth,
			Height:       info.TileHeight,
		}}
		image.Sizes = sizes(info.Width, info.Height, factors)
	}
	return image
}

// sizes lists the renditions matching the scale factors, smallest first.
func sizes(width, height int, factors []int) []Size {
	var out []Size
	for i := len(factors) - 1; i > 0; i-- {
		f := factors[i]
		out = append(out, Size{
			Width:  (width + f - 1) / f,
			Height: (height + f - 1) / f,
		})
	}
	return out
}

// scaleFactors doubles until a single tile covers the whole image.
func scaleFactors(width, height, tile int) []int {
	factors := []int{1}
	for f := 1; f*tile < width || f*tile < height; {
		f *= 2
		factors = append(factors, f)
	}
	return factors
}

func getETag(str string) string {
	return fmt.Sprintf("\"%x\"", sha1.Sum([]byte(str)))
}
