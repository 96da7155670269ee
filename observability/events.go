package observability

import (
	"strconv"
	"strings"

	"lendpool/core/events"
)

// EventRecorder is an events.Emitter that feeds the lending metrics from the
// engine's event stream.
type EventRecorder struct {
	metrics *LendingMetrics
}

// NewEventRecorder returns a recorder bound to the lending registry.
func NewEventRecorder(metrics *LendingMetrics) *EventRecorder {
	return &EventRecorder{metrics: metrics}
}

// Emit implements events.Emitter.
func (r *EventRecorder) Emit(evt events.Event) {
	if r == nil || r.metrics == nil || evt == nil {
		return
	}
	rendered := events.Render(evt)
	asset := strings.TrimSpace(rendered.Asset())
	if asset == "" {
		asset = "UNKNOWN"
	}
	r.metrics.events.WithLabelValues(rendered.Type, asset).Inc()

	deposited, okD := parseGaugeValue(rendered.Attr("totalDeposited"))
	borrowed, okB := parseGaugeValue(rendered.Attr("totalBorrowed"))
	if okD && okB {
		r.metrics.SetPoolTotals(asset, deposited, borrowed)
	}
}

func parseGaugeValue(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
