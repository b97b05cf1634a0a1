package interceptors

import (
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// RetryConfig configures Retries
type RetryConfig struct {
	MaxTries int           // total attempts, at least 1
	Delay    time.Duration // pause before the first retry
	Backoff  float64       // delay multiplier applied after each failure

	// Matches selects the errors worth retrying; nil retries every error
	Matches func(err error) bool

	// Hook runs before each retry with the attempts left, the error and the
	// pause about to be taken
	Hook func(remaining int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries: 3,
		Delay:    time.Second,
		Backoff:  2.0,
	}
}

// Retries calls its target up to MaxTries times while it fails with a
// matching error. The last matching error is returned unchanged; a
// non-matching error is returned at once.
type Retries struct {
	annotation.Interceptor
	config RetryConfig
	logger *zap.Logger
}

// NewRetries creates a Retries interceptor
func NewRetries(config RetryConfig, logger *zap.Logger) *Retries {
	if config.MaxTries < 1 {
		config.MaxTries = 1
	}
	if config.Backoff <= 0 {
		config.Backoff = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retries{Interceptor: annotation.NewInterceptor(), config: config, logger: logger}
}

// Config returns the retry configuration
func (r *Retries) Config() RetryConfig { return r.config }

func (r *Retries) AdviceName() string { return "retries" }

func (r *Retries) Around(jp *weave.Joinpoint) (any, error) {
	delay := r.config.Delay

	for remaining := r.config.MaxTries - 1; ; remaining-- {
		result, err := jp.Proceed()
		if err == nil {
			return result, nil
		}
		if r.config.Matches != nil && !r.config.Matches(err) {
			return result, err
		}
		if remaining == 0 {
			return result, err
		}

		r.logger.Debug("retrying call",
			zap.String(logging.FieldTarget, jp.Name),
			zap.Int(logging.FieldRemaining, remaining),
			zap.Duration(logging.FieldDelay, delay),
			zap.Error(err),
		)
		if r.config.Hook != nil {
			r.config.Hook(remaining, err, delay)
		}
		if serr := sleep(jp.Ctx, delay); serr != nil {
			return nil, err
		}
		delay = time.Duration(float64(delay) * r.config.Backoff)
	}
}
