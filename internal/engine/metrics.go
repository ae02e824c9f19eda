package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "task_completions_total",
		Help:      "Task completion attempts by outcome.",
	}, []string{"outcome"})

	currencyCredited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "currency_credited_total",
		Help:      "Currency units credited to profiles.",
	})

	currencySpent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "currency_spent_total",
		Help:      "Currency units debited by store purchases.",
	})

	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "store_purchases_total",
		Help:      "Store purchase calls by outcome.",
	}, []string{"outcome"})

	challengesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "challenges_completed_total",
		Help:      "Challenges rolled up to completed.",
	})

	ledgerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "ledger_retries_total",
		Help:      "Ledger transactions retried after contention.",
	})

	ledgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskquest",
		Name:      "ledger_conflicts_total",
		Help:      "Ledger transactions abandoned after exhausting retries.",
	})
)

type outcome struct {
	err  error
	name string
}

// outcomeOf names err for the outcome label.
func outcomeOf(err error, known ...outcome) string {
	if err == nil {
		return "ok"
	}
	for _, o := range known {
		if errors.Is(err, o.err) {
			return o.name
		}
	}
	return "error"
}
