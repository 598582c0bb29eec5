// Package interpreter turns chat utterances into calendar changes using
// fixed keyword and pattern rules. The same text, clock and context always
// produce the same result.
package interpreter

import (
	"context"
	"strings"
	"time"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/internal/metrics"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

// EventStore is the subset of the event store the interpreters drive.
type EventStore interface {
	CreateEvent(ctx context.Context, scope domain.Scope, fields domain.EventFields) (domain.Event, error)
	DeleteMatching(ctx context.Context, scope domain.Scope, match func(domain.Event) bool) ([]domain.Event, error)
}

type options struct {
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	loc     *time.Location
}

// Option configures a Scheduler, Deleter or Router.
type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the zone wall-clock rules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Nop(), now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) localNow() time.Time {
	return o.now().In(o.loc)
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
