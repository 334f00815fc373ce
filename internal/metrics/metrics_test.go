package metrics

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/bark-labs/pushdispatch/internal/model"
)

func TestWriteTextRoundTrip(t *testing.T) {
	r := New()
	r.IncInvocation()
	r.IncInvocation()
	r.ObserveSend(model.ErrorKindNone)
	r.ObserveSend(model.ErrorKindNotRegistered)
	r.ObserveSend(model.ErrorKindNotRegistered)
	r.ObserveSend(model.ErrorKindNetwork)
	r.AddDeactivated(2)
	r.IncCredentialExchange(nil)
	r.IncCredentialExchange(errors.New("boom"))

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	checks := map[string]float64{
		"pushdispatch_invocations_total":                  2,
		"pushdispatch_sends_ok_total":                     1,
		"pushdispatch_tokens_deactivated_total":           2,
		"pushdispatch_credential_exchanges_total":         2,
		"pushdispatch_credential_exchange_failures_total": 1,
		"pushdispatch_audit_failures_total":               0,
	}
	for name, want := range checks {
		if got := value(mfs[name], ""); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	failed := mfs["pushdispatch_sends_failed_total"]
	if got := value(failed, "not_registered"); got != 2 {
		t.Errorf("not_registered = %v, want 2", got)
	}
	if got := value(failed, "network"); got != 1 {
		t.Errorf("network = %v, want 1", got)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.IncInvocation()
	r.ObserveSend(model.ErrorKindUnknown)
	r.IncCredentialExchange(nil)
	r.AddDeactivated(1)
	if r.Families() != nil {
		t.Error("nil registry produced families")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ObserveSend(model.ErrorKindQuotaExceeded)
			r.ObserveSend(model.ErrorKindNone)
		}()
	}
	wg.Wait()
	if got := r.sendsOK.Load(); got != 50 {
		t.Errorf("sendsOK = %d", got)
	}
	if got := r.sendFailures[model.ErrorKindQuotaExceeded]; got != 50 {
		t.Errorf("quota = %d", got)
	}
}

func value(mf *dto.MetricFamily, kind string) float64 {
	if mf == nil {
		return -1
	}
	for _, m := range mf.GetMetric() {
		if kind == "" && len(m.GetLabel()) == 0 {
			return m.GetCounter().GetValue()
		}
		for _, l := range m.GetLabel() {
			if l.GetName() == "kind" && l.GetValue() == kind {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}
