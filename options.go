// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures services and streams with fluent setters.
// A nil *Options everywhere means all defaults.
//
// Example:
//
//	svc := sox.NewPollingService(sox.NewOptions().
//		PollingPeriod(time.Millisecond).
//		Logger(log))
type Options struct {
	period    time.Duration
	pageSize  int
	handler   ErrorHandler
	logger    zerolog.Logger
	hasLogger bool
}

// NewOptions creates an empty option set.
func NewOptions() *Options {
	return &Options{}
}

// PollingPeriod sets how long a polling worker sleeps (or a timer
// service waits) between drain passes that found nothing.
// Default: 10ms.
func (o *Options) PollingPeriod(d time.Duration) *Options {
	o.period = d
	return o
}

// PageSize sets the initial arena page size in bytes for streams
// created with these options. Pages still grow geometrically past
// it. Default: 4096.
func (o *Options) PageSize(n int) *Options {
	o.pageSize = n
	return o
}

// ErrorHandler installs the handler that receives drain failures.
// Default: a handler that logs through the configured logger.
func (o *Options) ErrorHandler(h ErrorHandler) *Options {
	o.handler = h
	return o
}

// Logger sets the zerolog logger used by the default error handler.
// Ignored when ErrorHandler is set. Default: an unadorned logger on
// stderr.
func (o *Options) Logger(l zerolog.Logger) *Options {
	o.logger = l
	o.hasLogger = true
	return o
}

// resolve copies o with defaults filled in. Safe on a nil receiver.
func (o *Options) resolve() *Options {
	var r Options
	if o != nil {
		r = *o
	}
	if r.period <= 0 {
		r.period = 10 * time.Millisecond
	}
	if r.pageSize <= 0 {
		r.pageSize = defaultPageBytes
	}
	if r.handler == nil {
		l := zerolog.New(os.Stderr)
		if r.hasLogger {
			l = r.logger
		}
		r.handler = logHandler{log: l}
	}
	return &r
}
