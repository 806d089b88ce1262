// Package config loads and checks the server configuration from TOML or
// YAML files.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/disk"
	"gopkg.in/yaml.v3"

	"github.com/greut/iiifcache/cache"
	"github.com/greut/iiifcache/geometry"
	"github.com/greut/iiifcache/operation"
)

// Error reports a missing or invalid configuration key.
type Error struct {
	Key    string
	Reason string
}

func (e Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Duration is a time.Duration written as a Go duration string ("10m").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ByteSize is a number of bytes written as "512M" or "2G".
type ByteSize uint64

// UnmarshalText parses a human readable size.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := bytefmt.ToBytes(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(v)
	return nil
}

// UnmarshalYAML parses a human readable size.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	return b.UnmarshalText([]byte(value.Value))
}

func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// Config stores the IIIF server configuration.
type Config struct {
	Host         string `toml:"host" yaml:"host"`
	Port         int    `toml:"port" yaml:"port"`
	Version      int    `toml:"version" yaml:"version"`
	MaxWidth     int    `toml:"maxWidth" yaml:"maxWidth"`
	MaxHeight    int    `toml:"maxHeight" yaml:"maxHeight"`
	MaxArea      int    `toml:"maxArea" yaml:"maxArea"`
	PurgeMissing bool   `toml:"purgeMissing" yaml:"purgeMissing"`
	// HTTPCache is the max-age sent to clients.
	HTTPCache Duration `toml:"httpCache" yaml:"httpCache"`

	Source     ComponentConfig   `toml:"source" yaml:"source"`
	Processor  ProcessorConfig   `toml:"processor" yaml:"processor"`
	Cache      CacheConfig       `toml:"cache" yaml:"cache"`
	Overlay    OverlayConfig     `toml:"overlay" yaml:"overlay"`
	Redactions []RedactionConfig `toml:"redaction" yaml:"redaction"`
}

// ComponentConfig names a registered component and its free-form options.
type ComponentConfig struct {
	Name    string                 `toml:"name" yaml:"name"`
	Options map[string]interface{} `toml:"options" yaml:"options"`
}

// ProcessorConfig selects the image processor.
type ProcessorConfig struct {
	Name         string                 `toml:"name" yaml:"name"`
	CopyMetadata bool                   `toml:"copyMetadata" yaml:"copyMetadata"`
	Options      map[string]interface{} `toml:"options" yaml:"options"`
}

// CacheConfig represents the configuration information regarding the cache.
// A zero SourceTTL disables the source cache, a zero DerivativeTTL keeps
// derivatives and info records until they are swept.
type CacheConfig struct {
	Name            string    `toml:"name" yaml:"name"`
	Path            string    `toml:"path" yaml:"path"`
	Depth           *int      `toml:"depth" yaml:"depth"`
	NameLength      *int      `toml:"nameLength" yaml:"nameLength"`
	MinCleanableAge Duration  `toml:"minCleanableAge" yaml:"minCleanableAge"`
	SweepInterval   Duration  `toml:"sweepInterval" yaml:"sweepInterval"`
	SourceTTL       *Duration `toml:"sourceTTL" yaml:"sourceTTL"`
	DerivativeTTL   *Duration `toml:"derivativeTTL" yaml:"derivativeTTL"`
	Source          bool      `toml:"source" yaml:"source"`
	Derivative      bool      `toml:"derivative" yaml:"derivative"`
	Info            bool      `toml:"info" yaml:"info"`
	InfoEntries     int       `toml:"infoEntries" yaml:"infoEntries"`
	Concurrency     int       `toml:"concurrency" yaml:"concurrency"`
	MinimumFree     ByteSize  `toml:"minimumFree" yaml:"minimumFree"`
}

// Enabled is false for the "none" cache.
func (c CacheConfig) Enabled() bool {
	return c.Name != "" && c.Name != "none"
}

// OverlayConfig draws the same image over every derivative.
type OverlayConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Image    string `toml:"image" yaml:"image"`
	Position string `toml:"position" yaml:"position"`
	Inset    int    `toml:"inset" yaml:"inset"`
}

// RedactionConfig blacks out a region, in full image pixels, of a source.
type RedactionConfig struct {
	Identifier string `toml:"identifier" yaml:"identifier"`
	Region     string `toml:"region" yaml:"region"`
}

// Default returns the values used for the keys a file leaves out. The
// cache layout keys have none.
func Default() Config {
	return Config{
		Host:      "0.0.0.0",
		Port:      8080,
		Version:   2,
		HTTPCache: Duration(time.Hour),
		Source:    ComponentConfig{Name: "filesystem"},
		Processor: ProcessorConfig{Name: "go"},
		Cache: CacheConfig{
			Name:          "none",
			SweepInterval: Duration(time.Hour),
			Source:        true,
			Derivative:    true,
			Info:          true,
			InfoEntries:   1024,
		},
		Overlay: OverlayConfig{Position: string(operation.BottomRight)},
	}
}

// Load reads a TOML or YAML file, by extension, over the defaults and
// validates the result.
func Load(filename string) (*Config, error) {
	body, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	c := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(body), &c); err != nil {
			return nil, errors.Wrapf(err, "config: decoding %s", filename)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(body, &c); err != nil {
			return nil, errors.Wrapf(err, "config: decoding %s", filename)
		}
	default:
		return nil, Error{"file", fmt.Sprintf("unknown format %#v, expected .toml or .yaml", filepath.Ext(filename))}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every key, without touching the filesystem.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return Error{"port", "out of range"}
	}
	if c.Version < 1 || c.Version > 3 {
		return Error{"version", "must be 1, 2 or 3"}
	}
	if c.MaxWidth < 0 || c.MaxHeight < 0 || c.MaxArea < 0 {
		return Error{"maxWidth", "limits cannot be negative"}
	}
	if c.HTTPCache < 0 {
		return Error{"httpCache", "cannot be negative"}
	}
	if c.Source.Name == "" {
		return Error{"source.name", "is required"}
	}
	if c.Processor.Name == "" {
		return Error{"processor.name", "is required"}
	}

	if err := c.Cache.validate(); err != nil {
		return err
	}

	if c.Overlay.Enabled {
		if c.Overlay.Image == "" {
			return Error{"overlay.image", "is required"}
		}
		if _, ok := operation.ParsePosition(c.Overlay.Position); !ok {
			return Error{"overlay.position", fmt.Sprintf("unknown position %#v", c.Overlay.Position)}
		}
		if c.Overlay.Inset < 0 {
			return Error{"overlay.inset", "cannot be negative"}
		}
	}

	for i, r := range c.Redactions {
		if r.Identifier == "" {
			return Error{fmt.Sprintf("redaction[%d].identifier", i), "is required"}
		}
		if _, err := parseRegion(r.Region); err != nil {
			return Error{fmt.Sprintf("redaction[%d].region", i), err.Error()}
		}
	}
	return nil
}

func (c CacheConfig) validate() error {
	switch c.Name {
	case "none", "":
		return nil
	case "filesystem":
	default:
		return Error{"cache.name", fmt.Sprintf("unknown cache %#v", c.Name)}
	}

	if c.Path == "" {
		return Error{"cache.path", "is required"}
	}
	if c.Depth == nil {
		return Error{"cache.depth", "is required"}
	}
	if c.NameLength == nil {
		return Error{"cache.nameLength", "is required"}
	}
	depth, nameLength := *c.Depth, *c.NameLength
	if depth < 0 || nameLength < 0 {
		return Error{"cache.depth", "cannot be negative"}
	}
	if depth > 0 && nameLength == 0 {
		return Error{"cache.nameLength", "must be positive when depth is"}
	}
	if depth*nameLength > 32 {
		return Error{"cache.depth", "depth times nameLength exceeds the 32 characters of a MD5 digest"}
	}
	if c.MinCleanableAge <= 0 {
		return Error{"cache.minCleanableAge", "is required and must be positive"}
	}
	if c.SweepInterval < 0 {
		return Error{"cache.sweepInterval", "cannot be negative"}
	}
	if c.Source {
		if c.SourceTTL == nil {
			return Error{"cache.sourceTTL", "is required"}
		}
		if *c.SourceTTL < 0 {
			return Error{"cache.sourceTTL", "cannot be negative"}
		}
	}
	if c.Derivative || c.Info {
		if c.DerivativeTTL == nil {
			return Error{"cache.derivativeTTL", "is required"}
		}
		if *c.DerivativeTTL < 0 {
			return Error{"cache.derivativeTTL", "cannot be negative"}
		}
	}
	if c.InfoEntries < 0 {
		return Error{"cache.infoEntries", "cannot be negative"}
	}
	if c.Concurrency < 0 {
		return Error{"cache.concurrency", "cannot be negative"}
	}
	return nil
}

// CheckCacheRoot creates the cache root, checks it is writable and that
// enough space is left on its device.
func (c *Config) CheckCacheRoot() error {
	if !c.Cache.Enabled() {
		return nil
	}

	root := c.Cache.Path
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Error{"cache.path", err.Error()}
	}

	f, err := ioutil.TempFile(root, ".writable")
	if err != nil {
		return Error{"cache.path", "is not writable: " + err.Error()}
	}
	f.Close()
	os.Remove(f.Name())

	if c.Cache.MinimumFree > 0 {
		usage, err := disk.Usage(root)
		if err != nil {
			return errors.Wrapf(err, "config: cannot stat %s", root)
		}
		if usage.Free < uint64(c.Cache.MinimumFree) {
			return Error{"cache.minimumFree", fmt.Sprintf("only %s free on %s, %s required", bytefmt.ByteSize(usage.Free), root, c.Cache.MinimumFree)}
		}
	}
	return nil
}

// CacheOptions converts the cache section.
func (c *Config) CacheOptions(logger *zerolog.Logger) cache.Options {
	opts := cache.Options{
		Path:              c.Cache.Path,
		MinCleanableAge:   time.Duration(c.Cache.MinCleanableAge),
		SourceEnabled:     c.Cache.Source,
		DerivativeEnabled: c.Cache.Derivative,
		InfoEnabled:       c.Cache.Info,
		Concurrency:       c.Cache.Concurrency,
		Logger:            logger,
	}
	if c.Cache.Depth != nil {
		opts.Depth = *c.Cache.Depth
	}
	if c.Cache.NameLength != nil {
		opts.NameLength = *c.Cache.NameLength
	}
	if c.Cache.SourceTTL != nil {
		opts.SourceTTL = time.Duration(*c.Cache.SourceTTL)
	}
	if c.Cache.DerivativeTTL != nil {
		opts.DerivativeTTL = time.Duration(*c.Cache.DerivativeTTL)
	}
	return opts
}

// Limits returns the size limits.
func (c *Config) Limits() operation.Limits {
	return operation.Limits{MaxWidth: c.MaxWidth, MaxHeight: c.MaxHeight, MaxArea: c.MaxArea}
}

// OverlayOperation returns the configured overlay, if any.
func (c *Config) OverlayOperation() (operation.Overlay, bool) {
	if !c.Overlay.Enabled {
		return operation.Overlay{}, false
	}
	position, _ := operation.ParsePosition(c.Overlay.Position)
	return operation.Overlay{Image: c.Overlay.Image, Position: position, Inset: c.Overlay.Inset}, true
}

// RedactionOperations groups the redactions by identifier.
func (c *Config) RedactionOperations() map[operation.Identifier][]operation.Redaction {
	redactions := make(map[operation.Identifier][]operation.Redaction)
	for _, r := range c.Redactions {
		region, err := parseRegion(r.Region)
		if err != nil {
			continue
		}
		id := operation.Identifier(r.Identifier)
		redactions[id] = append(redactions[id], operation.Redaction{Region: region})
	}
	return redactions
}

// parseRegion reads "x,y,w,h" in pixels.
func parseRegion(s string) (geometry.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Rectangle{}, errors.Errorf("%#v is not x,y,w,h", s)
	}

	var values [4]float64
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 {
			return geometry.Rectangle{}, errors.Errorf("%#v is not a pixel position", p)
		}
		values[i] = float64(v)
	}
	if values[2] == 0 || values[3] == 0 {
		return geometry.Rectangle{}, errors.Errorf("%#v is empty", s)
	}
	return geometry.Rectangle{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
}
