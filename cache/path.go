package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/greut/iiifcache/operation"
)

// MaxNameLength is the longest file name most filesystems accept.
const MaxNameLength = 255

// Directories below the cache root.
const (
	sourceDir     = "source"
	derivativeDir = "image"
	infoDir       = "info"
)

const infoSuffix = ".json"

// tempPrefix starts the name of the files being written. Sanitized names
// never start with it.
const tempPrefix = "%t"

func isTemp(name string) bool {
	return strings.HasPrefix(path.Base(name), tempPrefix)
}

// HashedPathFragment slices the hex MD5 digest of the identifier into
// depth directories of nameLength characters each.
func HashedPathFragment(id operation.Identifier, depth, nameLength int) string {
	if depth <= 0 || nameLength <= 0 {
		return ""
	}

	sum := md5.Sum([]byte(id))
	digest := hex.EncodeToString(sum[:])

	parts := make([]string, 0, depth)
	for i := 0; i < depth && (i+1)*nameLength <= len(digest); i++ {
		parts = append(parts, digest[i*nameLength:(i+1)*nameLength])
	}
	return path.Join(parts...)
}

// checkLayout validates a depth and name length pair.
func checkLayout(depth, nameLength int) error {
	switch {
	case depth < 0:
		return fmt.Errorf("depth %d is negative", depth)
	case depth > 0 && nameLength <= 0:
		return fmt.Errorf("nameLength %d must be positive", nameLength)
	case depth*nameLength > md5.Size*2:
		return fmt.Errorf("depth*nameLength %d exceeds the %d characters of a digest", depth*nameLength, md5.Size*2)
	}
	return nil
}

// Sanitize turns any string into a single, portable path element. It is
// injective: distinct inputs never share a name.
func Sanitize(name string) string {
	if name == "" {
		// QueryEscape never produces a lone percent sign.
		return "%"
	}
	s := url.QueryEscape(name)
	if strings.HasPrefix(s, ".") {
		s = "%2E" + s[1:]
	}
	return s
}

// leafName sanitizes name, falling back to a digest when the result would
// not fit in a directory entry.
func leafName(name, ext string) string {
	leaf := Sanitize(name) + ext
	if len(leaf) <= MaxNameLength {
		return leaf
	}
	return digestName(name) + ext
}

// digestName never collides with a sanitized name: escapes are uppercase
// hex digits.
func digestName(name string) string {
	return fmt.Sprintf("%%x%016x", xxhash.Sum64String(name))
}

// Layout maps identifiers and operation lists to paths relative to the
// cache root.
type Layout struct {
	Depth      int
	NameLength int
}

func (l Layout) bucket(root string, id operation.Identifier) string {
	return path.Join(root, HashedPathFragment(id, l.Depth, l.NameLength))
}

// SourcePath locates the cached copy of a source.
func (l Layout) SourcePath(id operation.Identifier) string {
	return path.Join(l.bucket(sourceDir, id), leafName(string(id), ""))
}

// InfoPath locates the info record of a source.
func (l Layout) InfoPath(id operation.Identifier) string {
	return path.Join(l.bucket(infoDir, id), leafName(string(id), infoSuffix))
}

// DerivativeDir holds every derivative of a source.
func (l Layout) DerivativeDir(id operation.Identifier) string {
	return path.Join(l.bucket(derivativeDir, id), leafName(string(id), ""))
}

// DerivativePath locates a derivative, named after the canonical string
// of the operation list.
func (l Layout) DerivativePath(ops *operation.List) string {
	name := ops.Filename()
	leaf := Sanitize(name)
	if len(leaf) > MaxNameLength {
		leaf = digestName(name) + "." + ops.Format().Extension()
	}
	return path.Join(l.DerivativeDir(ops.Identifier()), leaf)
}
