package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for recstore metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for access-method, index and partition operations.
var (
	OpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recstore_ops_total",
		Help: "Cumulative number of record operations, by access method kind, operation and result.",
	}, []string{"kind", "op", "result"})
	SyncSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "recstore_sync_seconds",
		Help: "Duration of Database checkpoints.",
	}, []string{"kind"})
	IndexFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recstore_index_failures_total",
		Help: "Cumulative number of secondary index maintenance failures.",
	}, []string{"index"})
	MisroutesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recstore_partition_misroutes_total",
		Help: "Cumulative number of partition callbacks returning an out-of-range index.",
	})
)

func init() {
	prometheus.MustRegister(OpsTotal, SyncSeconds, IndexFailuresTotal, MisroutesTotal)
}

// Result maps an error onto the Ok / Fail label.
func Result(err error) string {
	if err != nil {
		return Fail
	}
	return Ok
}
