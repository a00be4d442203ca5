package queue

import (
	"context"

	"github.com/hupe1980/agentplan/logging"
)

// Options holds settings shared by all drivers.
type Options struct {
	Logger logging.Logger
}

func newOptions(optFns []func(o *Options)) Options {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return opts
}

func handle(ctx context.Context, logger logging.Logger, driver string, handler Handler, requestID string) {
	if err := handler(ctx, requestID); err != nil {
		logger.Warn("queue.handler.error", "driver", driver, "request_id", requestID, "error", err.Error())
	}
}
