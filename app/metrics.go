package app

import (
	"gear_checkout/lifecycle"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var LifecycleOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gear_lifecycle_operations_total",
	Help: "Lifecycle engine calls by operation and result kind",
}, []string{"op", "result"})

var TransactionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gear_transactions_closed_total",
	Help: "Transactions closed, by what triggered the close",
}, []string{"trigger"})

var AuditBacklog = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gear_audit_backlog_total",
	Help: "Audit entries queued, flushed or dropped",
}, []string{"event"})

// Metrics feeds engine outcomes into the prometheus counters.
type Metrics struct{}

var _ lifecycle.Observer = Metrics{}

func (Metrics) ObserveOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if k := lifecycle.KindOf(err); k != "" {
			result = string(k)
		}
	}
	LifecycleOperations.WithLabelValues(op, result).Inc()
}

func (Metrics) ObserveClose(trigger string) { TransactionsClosed.WithLabelValues(trigger).Inc() }

func (Metrics) ObserveBacklog(event string) { AuditBacklog.WithLabelValues(event).Inc() }

func MetricsHandler() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
