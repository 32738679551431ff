package singleinstance

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxMessageSize caps the payload a single forwarded message may
// declare. Larger messages are read and discarded.
const DefaultMaxMessageSize = 1 << 20

type config struct {
	baseDir      string
	senderID     uint32
	maxMessage   int
	logger       zerolog.Logger
	sink         metrics.MetricSink
	metricLabels []metrics.Label
}

// Option to pass to Acquire.
type Option func(*config) error

func newConfig(opts []Option) (*config, error) {
	c := &config{
		senderID:   uint32(os.Getpid()),
		maxMessage: DefaultMaxMessageSize,
		logger:     log.Logger,
		sink:       metrics.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithBaseDir places the application directory under dir instead of the
// user's home directory.
func WithBaseDir(dir string) Option {
	return func(c *config) error {
		c.baseDir = dir
		return nil
	}
}

// WithSenderID overrides the sender identity, which defaults to the process
// id. Two processes forwarding at the same time must use different ids.
func WithSenderID(id uint32) Option {
	return func(c *config) error {
		c.senderID = id
		return nil
	}
}

// WithMaxMessageSize sets the largest payload, in bytes, the holder buffers
// for one message.
func WithMaxMessageSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max message size must be positive, got %d", ErrInvalidOption, n)
		}
		c.maxMessage = n
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithMetricSink specifies where counters are emitted. The global
// go-metrics instance is used by default.
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(c *config) error {
		if sink == nil {
			return fmt.Errorf("%w: nil metric sink", ErrInvalidOption)
		}
		c.sink = sink
		return nil
	}
}

// WithMetricLabels adds static labels to every emitted metric.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}
