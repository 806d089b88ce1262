package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greut/iiifcache/operation"
)

const tomlConfig = `
port = 8000
maxWidth = 2000
purgeMissing = true

[source]
name = "filesystem"
[source.options]
path = "fixtures"

[processor]
name = "vips"
copyMetadata = true

[cache]
name = "filesystem"
path = "%s"
depth = 3
nameLength = 2
minCleanableAge = "10m"
sourceTTL = "1h"
derivativeTTL = "24h"
info = false
minimumFree = "1K"

[overlay]
enabled = true
image = "watermark.png"
position = "top-left"
inset = 5

[[redaction]]
identifier = "secret.jpg"
region = "0,0,100,50"

[[redaction]]
identifier = "secret.jpg"
region = "10,10,5,5"
`

const yamlConfig = `
version: 3
source:
  name: http
  options:
    baseURL: https://example.org/images/
    timeout: 5s
cache:
  name: filesystem
  path: %s
  depth: 0
  nameLength: 0
  minCleanableAge: 1m
  sourceTTL: 0s
  derivativeTTL: 0s
  minimumFree: 1K
`

func writeConfig(t *testing.T, name, format string) string {
	t.Helper()
	dir := t.TempDir()
	filename := filepath.Join(dir, name)
	body := []byte(fmt.Sprintf(format, filepath.ToSlash(filepath.Join(dir, "cache"))))
	require.NoError(t, ioutil.WriteFile(filename, body, 0o644))
	return filename
}

func TestLoadTOML(t *testing.T) {
	c, err := Load(writeConfig(t, "config.toml", tomlConfig))
	require.NoError(t, err)

	require.Equal(t, 8000, c.Port)
	require.Equal(t, 2, c.Version)
	require.True(t, c.PurgeMissing)
	require.Equal(t, "fixtures", c.Source.Options["path"])
	require.Equal(t, "vips", c.Processor.Name)
	require.True(t, c.Processor.CopyMetadata)
	require.Equal(t, operation.Limits{MaxWidth: 2000}, c.Limits())

	opts := c.CacheOptions(nil)
	require.Equal(t, 3, opts.Depth)
	require.Equal(t, 2, opts.NameLength)
	require.Equal(t, 10*time.Minute, opts.MinCleanableAge)
	require.Equal(t, time.Hour, opts.SourceTTL)
	require.Equal(t, 24*time.Hour, opts.DerivativeTTL)
	require.True(t, opts.SourceEnabled)
	require.True(t, opts.DerivativeEnabled)
	require.False(t, opts.InfoEnabled)
	require.Equal(t, ByteSize(1024), c.Cache.MinimumFree)

	overlay, ok := c.OverlayOperation()
	require.True(t, ok)
	require.Equal(t, operation.Overlay{Image: "watermark.png", Position: operation.TopLeft, Inset: 5}, overlay)

	redactions := c.RedactionOperations()
	require.Len(t, redactions["secret.jpg"], 2)
	require.Equal(t, float64(100), redactions["secret.jpg"][0].Region.Width)

	require.NoError(t, c.CheckCacheRoot())
}

func TestLoadYAML(t *testing.T) {
	c, err := Load(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	require.Equal(t, 3, c.Version)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, "http", c.Source.Name)
	require.Equal(t, "5s", c.Source.Options["timeout"])
	require.Equal(t, time.Minute, time.Duration(c.Cache.MinCleanableAge))
	require.Equal(t, 0, *c.Cache.Depth)
	require.True(t, c.Cache.Derivative)
	require.NotNil(t, c.Cache.SourceTTL)
	require.Equal(t, Duration(0), *c.Cache.SourceTTL)
	require.Equal(t, time.Duration(0), c.CacheOptions(nil).SourceTTL)

	_, ok := c.OverlayOperation()
	require.False(t, ok)

	require.NoError(t, c.CheckCacheRoot())
}

func TestLoadUnknownFormat(t *testing.T) {
	_, err := Load(writeConfig(t, "config.json", "{}"))
	var cerr Error
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "file", cerr.Key)
}

func intp(v int) *int {
	return &v
}

func durationp(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

func validCache() CacheConfig {
	c := Default().Cache
	c.Name = "filesystem"
	c.Path = "/tmp/iiif"
	c.Depth = intp(2)
	c.NameLength = intp(2)
	c.MinCleanableAge = Duration(time.Minute)
	c.SourceTTL = durationp(time.Hour)
	c.DerivativeTTL = durationp(0)
	return c
}

func TestValidate(t *testing.T) {
	var tests = []struct {
		name   string
		change func(*Config)
		key    string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"no cache", func(c *Config) { c.Cache = Default().Cache }, ""},
		{"version", func(c *Config) { c.Version = 4 }, "version"},
		{"port", func(c *Config) { c.Port = 70000 }, "port"},
		{"source", func(c *Config) { c.Source.Name = "" }, "source.name"},
		{"unknown cache", func(c *Config) { c.Cache.Name = "redis" }, "cache.name"},
		{"path", func(c *Config) { c.Cache.Path = "" }, "cache.path"},
		{"depth", func(c *Config) { c.Cache.Depth = nil }, "cache.depth"},
		{"nameLength", func(c *Config) { c.Cache.NameLength = nil }, "cache.nameLength"},
		{"zero nameLength", func(c *Config) { c.Cache.NameLength = intp(0) }, "cache.nameLength"},
		{"layout", func(c *Config) { c.Cache.Depth = intp(5); c.Cache.NameLength = intp(7) }, "cache.depth"},
		{"minCleanableAge", func(c *Config) { c.Cache.MinCleanableAge = 0 }, "cache.minCleanableAge"},
		{"sourceTTL", func(c *Config) { c.Cache.SourceTTL = durationp(-time.Second) }, "cache.sourceTTL"},
		{"derivativeTTL", func(c *Config) { c.Cache.DerivativeTTL = durationp(-time.Second) }, "cache.derivativeTTL"},
		{"missing sourceTTL", func(c *Config) { c.Cache.SourceTTL = nil }, "cache.sourceTTL"},
		{"missing derivativeTTL", func(c *Config) { c.Cache.DerivativeTTL = nil }, "cache.derivativeTTL"},
		{"zero sourceTTL", func(c *Config) { c.Cache.SourceTTL = durationp(0) }, ""},
		{"source cache off", func(c *Config) { c.Cache.Source = false; c.Cache.SourceTTL = nil }, ""},
		{"info cache only", func(c *Config) {
			c.Cache.Derivative = false
			c.Cache.DerivativeTTL = nil
		}, "cache.derivativeTTL"},
		{"overlay", func(c *Config) { c.Overlay.Enabled = true }, "overlay.image"},
		{"overlay position", func(c *Config) {
			c.Overlay = OverlayConfig{Enabled: true, Image: "w.png", Position: "middle"}
		}, "overlay.position"},
		{"redaction", func(c *Config) {
			c.Redactions = []RedactionConfig{{Identifier: "a.jpg", Region: "1,2,3"}}
		}, "redaction[0].region"},
		{"empty redaction", func(c *Config) {
			c.Redactions = []RedactionConfig{{Identifier: "a.jpg", Region: "1,2,0,3"}}
		}, "redaction[0].region"},
	}

	for _, test := range tests {
		c := Default()
		c.Cache = validCache()
		test.change(&c)

		err := c.Validate()
		if test.key == "" {
			if err != nil {
				t.Errorf("%s: got %v want no error", test.name, err)
			}
			continue
		}

		var cerr Error
		if !errors.As(err, &cerr) {
			t.Errorf("%s: got %v want a config.Error", test.name, err)
			continue
		}
		if cerr.Key != test.key {
			t.Errorf("%s: got key %v want %v", test.name, cerr.Key, test.key)
		}
	}
}

func TestCheckCacheRootMinimumFree(t *testing.T) {
	c := Default()
	c.Cache = validCache()
	c.Cache.Path = t.TempDir()
	c.Cache.MinimumFree = ByteSize(1 << 62)

	err := c.CheckCacheRoot()
	var cerr Error
	require.True(t, errors.As(err, &cerr), "got %v", err)
	require.Equal(t, "cache.minimumFree", cerr.Key)
}

func TestByteSize(t *testing.T) {
	var tests = []struct {
		in   string
		want ByteSize
	}{
		{"1K", 1024},
		{"512M", 512 << 20},
		{"2G", 2 << 30},
	}

	for _, test := range tests {
		var b ByteSize
		if err := b.UnmarshalText([]byte(test.in)); err != nil || b != test.want {
			t.Errorf("%v: got %v (%v) want %v", test.in, uint64(b), err, uint64(test.want))
		}
	}

	var b ByteSize
	if err := b.UnmarshalText([]byte("lots")); err == nil {
		t.Errorf("lots should not parse")
	}
}
