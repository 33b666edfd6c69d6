package topology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/glimte/mmate-broker/routing"
	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for topology files that are not JSON, YAML or TOML
var ErrUnsupportedFormat = fmt.Errorf("topology: unsupported format: %w", errdefs.ErrInvalidArgument)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = fmt.Errorf("topology: invalid config: %w", errdefs.ErrInvalidArgument)

// Format is a topology file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Config declares exchanges, queues and the bindings between them
type Config struct {
	Exchanges     []*Exchange     `json:"Exchanges" yaml:"Exchanges" toml:"Exchanges"`
	Queues        []*Queue        `json:"Queues" yaml:"Queues" toml:"Queues"`
	QueueBindings []*QueueBinding `json:"QueueBindings" yaml:"QueueBindings" toml:"QueueBindings"`
}

// Exchange declares an exchange. Type is direct, fanout or topic.
type Exchange struct {
	Name       string `json:"Name" yaml:"Name" toml:"Name"`
	Type       string `json:"Type" yaml:"Type" toml:"Type"`
	Durable    bool   `json:"Durable" yaml:"Durable" toml:"Durable"`
	AutoDelete bool   `json:"AutoDelete" yaml:"AutoDelete" toml:"AutoDelete"`
}

// Queue declares a queue
type Queue struct {
	Name       string `json:"Name" yaml:"Name" toml:"Name"`
	Durable    bool   `json:"Durable" yaml:"Durable" toml:"Durable"`
	AutoDelete bool   `json:"AutoDelete" yaml:"AutoDelete" toml:"AutoDelete"`
	Exclusive  bool   `json:"Exclusive" yaml:"Exclusive" toml:"Exclusive"`
}

// QueueBinding binds a queue to an exchange with a routing pattern
type QueueBinding struct {
	QueueName    string `json:"QueueName" yaml:"QueueName" toml:"QueueName"`
	ExchangeName string `json:"ExchangeName" yaml:"ExchangeName" toml:"ExchangeName"`
	RoutingKey   string `json:"RoutingKey" yaml:"RoutingKey" toml:"RoutingKey"`
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// LoadFile reads and validates a topology file
func LoadFile(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a topology document
func Parse(data []byte, format Format) (*Config, error) {
	cfg := &Config{}

	var err error
	switch format {
	case FormatJSON:
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, cfg)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s topology: %w", format, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks names and that every binding refers to a declared queue
// or an exchange that is declared or predeclared
func (c *Config) Validate() error {
	var errs []error

	queues := make(map[string]bool, len(c.Queues))
	for i, q := range c.Queues {
		if q == nil || q.Name == "" {
			errs = append(errs, fmt.Errorf("%w: queue %d has no name", ErrInvalidConfig, i))
			continue
		}
		queues[q.Name] = true
	}

	exchanges := map[string]bool{routing.AmqDirect: true, routing.AmqFanout: true, routing.AmqTopic: true}
	for i, ex := range c.Exchanges {
		if ex == nil || ex.Name == "" {
			errs = append(errs, fmt.Errorf("%w: exchange %d has no name", ErrInvalidConfig, i))
			continue
		}
		exchanges[ex.Name] = true
	}

	for i, b := range c.QueueBindings {
		switch {
		case b == nil:
			errs = append(errs, fmt.Errorf("%w: binding %d is empty", ErrInvalidConfig, i))
		case !queues[b.QueueName]:
			errs = append(errs, fmt.Errorf("%w: binding %d refers to undeclared queue %q", ErrInvalidConfig, i, b.QueueName))
		case !exchanges[b.ExchangeName]:
			errs = append(errs, fmt.Errorf("%w: binding %d refers to undeclared exchange %q", ErrInvalidConfig, i, b.ExchangeName))
		}
	}

	return errors.Join(errs...)
}
