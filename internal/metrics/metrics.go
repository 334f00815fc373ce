// Package metrics keeps process-wide dispatch counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/bark-labs/pushdispatch/internal/model"
)

// Registry is safe for concurrent use. A nil *Registry ignores every update.
type Registry struct {
	invocations        atomic.Int64
	invocationFailures atomic.Int64
	emptyResolutions   atomic.Int64
	sendsOK            atomic.Int64
	deactivated        atomic.Int64
	exchanges          atomic.Int64
	exchangeFailures   atomic.Int64
	auditFailures      atomic.Int64
	reconcileFailures  atomic.Int64

	mu           sync.Mutex
	sendFailures map[model.ErrorKind]int64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sendFailures: make(map[model.ErrorKind]int64)}
}

func (r *Registry) IncInvocation() {
	if r != nil {
		r.invocations.Add(1)
	}
}

// IncInvocationFailure counts invocations aborted before any send.
func (r *Registry) IncInvocationFailure() {
	if r != nil {
		r.invocationFailures.Add(1)
	}
}

func (r *Registry) IncEmptyResolution() {
	if r != nil {
		r.emptyResolutions.Add(1)
	}
}

// ObserveSend records one per-token outcome.
func (r *Registry) ObserveSend(kind model.ErrorKind) {
	if r == nil {
		return
	}
	if kind == model.ErrorKindNone || kind == "" {
		r.sendsOK.Add(1)
		return
	}
	r.mu.Lock()
	if r.sendFailures == nil {
		r.sendFailures = make(map[model.ErrorKind]int64)
	}
	r.sendFailures[kind]++
	r.mu.Unlock()
}

func (r *Registry) AddDeactivated(n int) {
	if r != nil && n > 0 {
		r.deactivated.Add(int64(n))
	}
}

// IncCredentialExchange satisfies credential.Observer.
func (r *Registry) IncCredentialExchange(err error) {
	if r == nil {
		return
	}
	r.exchanges.Add(1)
	if err != nil {
		r.exchangeFailures.Add(1)
	}
}

func (r *Registry) IncAuditFailure() {
	if r != nil {
		r.auditFailures.Add(1)
	}
}

func (r *Registry) IncReconcileFailure() {
	if r != nil {
		r.reconcileFailures.Add(1)
	}
}

// Families snapshots the counters as metric families, sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	if r == nil {
		return nil
	}
	families := []*dto.MetricFamily{
		counter("pushdispatch_invocations_total", "Dispatch invocations received.", r.invocations.Load()),
		counter("pushdispatch_invocation_failures_total", "Invocations aborted before any send.", r.invocationFailures.Load()),
		counter("pushdispatch_empty_resolutions_total", "Invocations that resolved zero recipients.", r.emptyResolutions.Load()),
		counter("pushdispatch_sends_ok_total", "Gateway sends that returned a message id.", r.sendsOK.Load()),
		counter("pushdispatch_tokens_deactivated_total", "Registrations flipped to inactive.", r.deactivated.Load()),
		counter("pushdispatch_credential_exchanges_total", "Token endpoint exchanges attempted.", r.exchanges.Load()),
		counter("pushdispatch_credential_exchange_failures_total", "Token endpoint exchanges that failed.", r.exchangeFailures.Load()),
		counter("pushdispatch_audit_failures_total", "Audit rows that could not be written.", r.auditFailures.Load()),
		counter("pushdispatch_reconcile_failures_total", "Deactivation batches that failed.", r.reconcileFailures.Load()),
		r.sendFailureFamily(),
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// WriteText renders the registry in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range r.Families() {
		// The text encoder rejects families without samples.
		if len(mf.GetMetric()) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// ContentType is the header value matching WriteText output.
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

func (r *Registry) sendFailureFamily() *dto.MetricFamily {
	r.mu.Lock()
	kinds := make([]string, 0, len(r.sendFailures))
	counts := make(map[string]int64, len(r.sendFailures))
	for k, v := range r.sendFailures {
		kinds = append(kinds, string(k))
		counts[string(k)] = v
	}
	r.mu.Unlock()
	sort.Strings(kinds)

	mf := &dto.MetricFamily{
		Name: proto.String("pushdispatch_sends_failed_total"),
		Help: proto.String("Gateway sends that failed, by error kind."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range kinds {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String("kind"), Value: proto.String(k)}},
			Counter: &dto.Counter{Value: proto.Float64(float64(counts[k]))},
		})
	}
	return mf
}

func counter(name, help string, v int64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: proto.Float64(float64(v))}},
		},
	}
}
