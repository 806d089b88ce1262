package iiif

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/ioutil"
	"log"
	"net/http"
	"testing"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

func TestAcceptRanges(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	url := ts.URL + "/test.png/full/max/0/default.png"
	resp, err := http.Get(url)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	if status := resp.StatusCode; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %#v want %#v", status, http.StatusOK)
		return
	}

	if acceptRanges := resp.Header.Get("Accept-Ranges"); acceptRanges != "bytes" {
		t.Errorf("handler should accept bytes ranges: got %#v want \"bytes\"", acceptRanges)
		return
	}
}

func TestContentDisposition(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	var tests = []struct {
		url    string
		header string
	}{
		{"/test.png/full/max/0/default.png", "inline; filename=test.png-full-max-0-default.png"},
		{"/test.png/full/max/0/default.png?dl", "attachement; filename=test.png-full-max-0-default.png"},
		{"/test.png/pct:10,10,50,50/150,/0/gray.jpg", "inline; filename=test.png-pct_10105050-150-0-gray.jpg"},
	}
	for _, test := range tests {
		url := ts.URL + test.url
		resp, err := http.Get(url)
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != test.header {
			t.Errorf("Content-Disposition should enable downloading, got: %#v want %#v", contentDisposition, test.header)
			return
		}
	}
}

func TestContentType(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	var tests = []struct {
		url         string
		contentType string
	}{
		{"/test.png/full/max/0/default.png", "image/png"},
		{"/test.png/full/max/0/default.jpg", "image/jpeg"},
		{"/test.png/full/max/0/default.tif", "image/tiff"},
	}
	for _, test := range tests {
		resp, err := http.Get(ts.URL + test.url)
		if err != nil {
			log.Fatal(err)
		}
		resp.Body.Close()

		if contentType := resp.Header.Get("Content-Type"); contentType != test.contentType {
			t.Errorf("%v: got %v want %v", test.url, contentType, test.contentType)
		}
	}
}

// decodedSize fetches a derivative and decodes its size.
func decodedSize(t *testing.T, url string) (int, int, bool) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		log.Fatal(err)
	}

	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	if status := resp.StatusCode; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v\nmessage: %s", status, http.StatusOK, string(body))
		return 0, 0, false
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		t.Errorf("%v cannot be decoded: %v", url, err)
		return 0, 0, false
	}
	return config.Width, config.Height, true
}

func TestOutputSizes(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	var tests = []struct {
		url    string
		width  int
		height int
	}{
		{"/test.png/full/max/0/default.png", 300, 200},
		{"/test.png/full/full/0/default.png", 300, 200},
		{"/test.png/full/max/0/default.jpg", 300, 200},
		{"/test.png/full/max/0/default.tif", 300, 200},
		{"/test.png/full/max/0/default.gif", 300, 200},
		{"/test.png/full/max/0/default.bmp", 300, 200},
		{"/test.png/full/max/0/gray.png", 300, 200},
		{"/test.png/full/max/0/bitonal.png", 300, 200},
		{"/test.png/full/max/90/default.png", 200, 300},
		{"/test.png/full/max/!90/default.png", 200, 300},
		{"/test.png/full/max/180/default.png", 300, 200},
		{"/test.png/full/max/!180/default.png", 300, 200},
		{"/test.png/full/max/270/default.png", 200, 300},
		{"/test.png/full/150,/0/default.png", 150, 100},
		{"/test.png/full/,100/0/default.png", 150, 100},
		{"/test.png/full/!150,150/0/default.png", 150, 100},
		{"/test.png/full/100,100/0/default.png", 100, 100},
		{"/test.png/full/pct:50/0/default.png", 150, 100},
		{"/test.png/square/max/0/default.png", 200, 200},
		{"/test.png/square/50,/0/default.png", 50, 50},
		{"/test.png/0,0,100,50/max/0/default.png", 100, 50},
		{"/test.png/0,0,100,50/50,/90/default.png", 25, 50},
		{"/test.png/pct:50,50,50,50/max/0/default.png", 150, 100},
		{"/test.png/250,150,100,100/max/0/default.png", 50, 50},
		{"/images/test.png/full/150,/0/default.png", 150, 100},
	}

	for _, test := range tests {
		width, height, ok := decodedSize(t, ts.URL+test.url)
		if !ok {
			continue
		}
		if width != test.width || height != test.height {
			t.Errorf("sizes do not match for %v: got %vx%v want %vx%v", test.url, width, height, test.width, test.height)
		}
	}
}

func TestOutputMaxSizes(t *testing.T) {
	ts := newServerWithMaxSize(t, 200, 300, 50000)
	defer ts.Close()

	var tests = []struct {
		url    string
		width  int
		height int
	}{
		{"/test.png/square/max/0/default.png", 200, 200},
		{"/test.png/0,0,100,100/max/0/default.png", 100, 100},
	}

	for _, test := range tests {
		width, height, ok := decodedSize(t, ts.URL+test.url)
		if !ok {
			continue
		}
		if width != test.width || height != test.height {
			t.Errorf("sizes do not match for %v: got %vx%v want %vx%v", test.url, width, height, test.width, test.height)
		}
	}
}

func TestFailing(t *testing.T) {
	ts := newServerWithMaxSize(t, 250, 300, 50000)
	defer ts.Close()

	var tests = []struct {
		url    string
		status int
	}{
		{"/test.png/square/max/0/default.png", http.StatusOK},
		{"/missing.png/full/max/0/default.png", http.StatusNotFound},
		{"/test.png/full/max/0/default.webp", http.StatusNotImplemented},
		{"/test.png/full/max/0/default.pdf", http.StatusNotImplemented},
		{"/test.png/full/max/flip/default.png", http.StatusBadRequest},
		{"/test.png/full/max/0/sepia.png", http.StatusBadRequest},
		{"/test.png/full/pct:-1/0/default.png", http.StatusBadRequest},
		{"/test.png/full/10/0/default.png", http.StatusBadRequest},
		{"/test.png/full/10,10,10/0/default.png", http.StatusBadRequest},
		{"/test.png/10/max/0/default.png", http.StatusBadRequest},
		{"/test.png/10,10/max/0/default.png", http.StatusBadRequest},
		{"/test.png/10,10,10/max/0/default.png", http.StatusBadRequest},
		{"/test.png/1000,1000,10,10/max/0/default.png", http.StatusBadRequest},
		{"/test.png/full/251,/0/default.png", http.StatusBadRequest},
		// 300x200 is beyond the 250 pixels wide limit.
		{"/test.png/full/pct:100/0/default.png", http.StatusBadRequest},
	}

	for _, test := range tests {
		resp, err := http.Get(ts.URL + test.url)
		if err != nil {
			log.Fatal(err)
		}
		resp.Body.Close()

		if status := resp.StatusCode; status != test.status {
			t.Errorf("%v: got %v want %v", test.url, status, test.status)
		}
	}
}
