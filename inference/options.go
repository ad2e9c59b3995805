package inference

import (
	"go.uber.org/zap"

	"github.com/nvr-ai/go-impulse/logger"
	"github.com/nvr-ai/go-impulse/metrics"
	"github.com/nvr-ai/go-impulse/models"
)

// options are shared by Engine and Continuous.
type options struct {
	log      *zap.Logger
	debug    bool
	recorder *metrics.Recorder
	registry *models.Registry
}

// Option configures an orchestrator.
type Option func(*options)

// WithLogger sets the logger. Defaults to logger.Log().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDebug logs feature buffers and intermediate results at debug level.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

// WithRecorder records stage timings and failures.
func WithRecorder(r *metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithRegistry replaces the decoder registry. Defaults to models.Default().
func WithRegistry(r *models.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = logger.Log()
	}
	if o.registry == nil {
		o.registry = models.Default()
	}
	return o
}
