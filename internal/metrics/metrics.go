package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for committed ledger operations. Incremented only after the
// database transaction commits, so they track applied state transitions.
var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timebank_ledger_operations_total",
		Help: "Committed state transitions by module and operation.",
	}, []string{"module", "operation"})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timebank_ledger_operation_errors_total",
		Help: "Rejected operations by module and operation.",
	}, []string{"module", "operation"})

	CreditsTransferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timebank_credits_transferred_total",
		Help: "Total credits moved between accounts via transfers.",
	})
)
