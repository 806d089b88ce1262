package source

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/greut/iiifcache/operation"
)

func init() {
	Register("http", func(options map[string]interface{}) (Resolver, error) {
		var opts HTTPOptions
		config := &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
			Result:     &opts,
		}
		decoder, err := mapstructure.NewDecoder(config)
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(options); err != nil {
			return nil, errors.Wrap(err, "source: http options")
		}
		return NewHTTPResolver(opts)
	})
}

// HTTPOptions configures the HTTP resolver.
type HTTPOptions struct {
	// BaseURL prefixes the identifiers that are not absolute URLs.
	BaseURL string `mapstructure:"baseURL"`
	// Timeout bounds each request.
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPResolver downloads sources. With a base URL, identifiers are paths
// below it and nothing else is fetched. Without one, identifiers are URLs,
// as in http:/example.org/a.png once the double slash got squashed, or
// base64 encoded URLs.
type HTTPResolver struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPResolver builds a resolver with its own client.
func NewHTTPResolver(opts HTTPOptions) (*HTTPResolver, error) {
	r := &HTTPResolver{
		client: &http.Client{Timeout: opts.Timeout},
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "source: base url")
		}
		r.base = base
	}
	return r, nil
}

// URL returns the location of the identifier.
func (r *HTTPResolver) URL(id operation.Identifier) (string, error) {
	if r.base != nil {
		return r.below(id)
	}

	s := string(id)
	if strings.HasPrefix(s, "http:/") || strings.HasPrefix(s, "https:/") {
		if !strings.Contains(s, "://") {
			s = strings.Replace(s, ":/", "://", 1)
		}
		return s, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", NotFoundError{id}
	}
	return string(decoded), nil
}

// below resolves a relative identifier against the base URL, refusing
// anything that lands outside of it.
func (r *HTTPResolver) below(id operation.Identifier) (string, error) {
	ref, err := url.Parse(ScrubIdentifier(id))
	if err != nil || ref.IsAbs() || ref.Host != "" || ref.User != nil {
		return "", NotFoundError{id}
	}

	u := r.base.ResolveReference(ref)
	if u.Scheme != r.base.Scheme || u.Host != r.base.Host {
		return "", NotFoundError{id}
	}

	root := path.Clean("/" + r.base.Path[:strings.LastIndex(r.base.Path, "/")+1])
	p := path.Clean("/" + u.Path)
	if root != "/" && p != root && !strings.HasPrefix(p, root+"/") {
		return "", NotFoundError{id}
	}
	return u.String(), nil
}

func (r *HTTPResolver) do(ctx context.Context, method string, id operation.Identifier) (*http.Response, error) {
	sURL, err := r.URL(id)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("method", method).Str("url", sURL).Msg("requesting source")

	req, err := http.NewRequestWithContext(ctx, method, sURL, nil)
	if err != nil {
		return nil, NotFoundError{id}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, NotFoundError{id}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, AccessDeniedError{id}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, errors.Errorf("source: %v %v returned %d", method, sURL, resp.StatusCode)
	}
	return resp, nil
}

// CheckAccess sends a HEAD request.
func (r *HTTPResolver) CheckAccess(ctx context.Context, id operation.Identifier) error {
	resp, err := r.do(ctx, http.MethodHead, id)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SourceFormat uses the URL extension, then the Content-Type.
func (r *HTTPResolver) SourceFormat(ctx context.Context, id operation.Identifier) (operation.Format, error) {
	sURL, err := r.URL(id)
	if err != nil {
		return operation.Unknown, err
	}
	if u, err := url.Parse(sURL); err == nil {
		if f, ok := operation.ParseFormat(path.Ext(u.Path)); ok {
			return f, nil
		}
	}

	resp, err := r.do(ctx, http.MethodHead, id)
	if err != nil {
		return operation.Unknown, err
	}
	resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	f, _ := operation.ParseFormat(strings.TrimPrefix(strings.TrimSpace(contentType), "image/"))
	return f, nil
}

// Open sends a GET request, the body is the stream.
func (r *HTTPResolver) Open(ctx context.Context, id operation.Identifier) (io.ReadCloser, error) {
	resp, err := r.do(ctx, http.MethodGet, id)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
