package observability

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"lendpool/core/events"
)

func TestEventRecorderUpdatesPoolGauges(t *testing.T) {
	metrics := Lending()
	recorder := NewEventRecorder(metrics)
	recorder.Emit(events.LendingAction{
		Type:           events.TypeLendingDeposit,
		Asset:          "gauge",
		Amount:         uint256.NewInt(5),
		TotalDeposited: uint256.NewInt(1_500),
		TotalBorrowed:  uint256.NewInt(250),
	})

	if got := testutil.ToFloat64(metrics.deposited.WithLabelValues("GAUGE")); got != 1_500 {
		t.Fatalf("expected deposited gauge 1500, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.borrowed.WithLabelValues("GAUGE")); got != 250 {
		t.Fatalf("expected borrowed gauge 250, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.events.WithLabelValues(events.TypeLendingDeposit, "GAUGE")); got != 1 {
		t.Fatalf("expected one recorded event, got %v", got)
	}
}
