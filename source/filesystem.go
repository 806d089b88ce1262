package source

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/greut/iiifcache/operation"
)

func init() {
	Register("filesystem", func(options map[string]interface{}) (Resolver, error) {
		var opts struct {
			Path string `mapstructure:"path"`
		}
		if err := mapstructure.Decode(options, &opts); err != nil {
			return nil, errors.Wrap(err, "source: filesystem options")
		}
		return NewFilesystemResolver(opts.Path)
	})
}

// FilesystemResolver serves the files below a root directory.
type FilesystemResolver struct {
	root string
}

// NewFilesystemResolver checks that root is a directory.
func NewFilesystemResolver(root string) (*FilesystemResolver, error) {
	if root == "" {
		return nil, errors.New("source: filesystem path is required")
	}
	stat, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	if !stat.IsDir() {
		return nil, errors.Errorf("source: %v is not a directory", root)
	}
	return &FilesystemResolver{root: root}, nil
}

// path stays below the root whatever the identifier holds.
func (r *FilesystemResolver) path(id operation.Identifier) string {
	name := path.Clean("/" + ScrubIdentifier(id))
	return filepath.Join(r.root, filepath.FromSlash(name))
}

// CheckAccess stats the file.
func (r *FilesystemResolver) CheckAccess(ctx context.Context, id operation.Identifier) error {
	filename := r.path(id)
	stat, err := os.Stat(filename)
	switch {
	case os.IsNotExist(err):
		zerolog.Ctx(ctx).Debug().Str("path", filename).Msg("source file is missing")
		return NotFoundError{id}
	case os.IsPermission(err):
		return AccessDeniedError{id}
	case err != nil:
		return err
	case stat.IsDir():
		return NotFoundError{id}
	}
	return nil
}

// SourceFormat uses the extension, then the first bytes of the file.
func (r *FilesystemResolver) SourceFormat(ctx context.Context, id operation.Identifier) (operation.Format, error) {
	if f := operation.InferFormat(id); f != operation.Unknown {
		return f, nil
	}

	rc, err := r.Open(ctx, id)
	if err != nil {
		return operation.Unknown, err
	}
	defer rc.Close()

	header := make([]byte, 512)
	n, err := io.ReadFull(rc, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return operation.Unknown, err
	}
	return sniffFormat(header[:n]), nil
}

// Open opens the file.
func (r *FilesystemResolver) Open(ctx context.Context, id operation.Identifier) (io.ReadCloser, error) {
	f, err := os.Open(r.path(id))
	switch {
	case os.IsNotExist(err):
		return nil, NotFoundError{id}
	case os.IsPermission(err):
		return nil, AccessDeniedError{id}
	case err != nil:
		return nil, err
	}

	if stat, err := f.Stat(); err != nil || stat.IsDir() {
		f.Close()
		return nil, NotFoundError{id}
	}
	return f, nil
}
