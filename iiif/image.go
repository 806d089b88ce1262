package iiif

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// ImageHandler responds to the IIIF Image API.
func ImageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identifier(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	region := vars["region"]
	size := vars["size"]
	rotation := vars["rotation"]
	quality := vars["quality"]
	format := vars["format"]

	service := serviceFrom(r)
	ops, err := service.Parser.ParseRequest(id, region, size, rotation, quality+"."+format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	derivative, err := service.Derivative(r.Context(), ops)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer derivative.Close()

	filename := fmt.Sprintf("%v-%v-%v-%v-%v.%v", id, region, size, rotation, quality, format)
	filename = strings.Replace(
		strings.Replace(
			strings.Replace(filename, "/", "_", -1),
			":", "_", -1),
		",", "", -1)

	disposition := "inline"
	_, present := r.URL.Query()["dl"]
	if present {
		disposition = "attachement"
	}

	header := w.Header()
	header.Set("Content-Disposition", fmt.Sprintf("%s; filename=%s", disposition, filename))
	header.Set("Content-Type", derivative.Format.MediaType())
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("ETag", getETag(ops.String()))
	header.Set("Cache-Control", fmt.Sprintf("max-age=%v, public", int(service.MaxAge.Seconds())))

	http.ServeContent(w, r, filename, derivative.ModTime, derivative)
}
