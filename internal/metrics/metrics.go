// Package metrics exports wrapper rejections and session activity as
// Prometheus metrics.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/txentity/internal/entity"
	"github.com/roach88/txentity/internal/session"
)

// Collector counts rejected wrapper operations, session transitions and
// flushes. It implements session.Observer.
type Collector struct {
	rejections  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	flushes     *prometheus.HistogramVec
}

var _ session.Observer = (*Collector)(nil)

// NewCollector creates the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txentity_dispatch_rejections_total",
				Help: "Wrapper operations rejected by the dispatch tables",
			},
			[]string{"op", "class", "state", "kind"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txentity_session_transitions_total",
				Help: "Session state transitions by target state",
			},
			[]string{"to"},
		),
		flushes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txentity_flush_seconds",
				Help:    "Duration of session flushes",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"outcome"},
		),
	}

	for _, col := range []prometheus.Collector{c.rejections, c.transitions, c.flushes} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) Rejected(op string, class entity.Class, state entity.State, err *entity.Error) {
	c.rejections.WithLabelValues(op, class.String(), state.String(), string(err.Kind)).Inc()
}

func (c *Collector) SessionTransition(_ string, _, to entity.SessionState) {
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) Flushed(_ string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.flushes.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// WriteText writes every metric gathered from g in the text exposition
// format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
