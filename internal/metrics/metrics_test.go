package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if admissionsTotal == nil || httpRequestsTotal == nil || pendingURIs == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveAdmission(t *testing.T) {
	Init()
	before := testutil.ToFloat64(admissionsTotal.WithLabelValues("admitted"))
	ObserveAdmission("admitted")
	ObserveAdmission("admitted")
	if got := testutil.ToFloat64(admissionsTotal.WithLabelValues("admitted")); got != before+2 {
		t.Errorf("admissions = %f; want %f", got, before+2)
	}
}

func TestSetQueueState(t *testing.T) {
	SetQueueState(7, 3)
	if got := testutil.ToFloat64(pendingURIs); got != 7 {
		t.Errorf("pending = %f; want 7", got)
	}
	if got := testutil.ToFloat64(blockedHosts); got != 3 {
		t.Errorf("blocked = %f; want 3", got)
	}
}

func TestObserveHostRelease(t *testing.T) {
	Init()
	before := testutil.ToFloat64(hostReleasesTotal.WithLabelValues("not_busy"))
	ObserveHostRelease("not_busy")
	if got := testutil.ToFloat64(hostReleasesTotal.WithLabelValues("not_busy")); got != before+1 {
		t.Errorf("releases = %f; want %f", got, before+1)
	}
}
