package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encdex_index_records_total",
		Help: "Records reduced to filter bits",
	}, []string{"index"})

	TermsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encdex_index_terms_total",
		Help: "Terms added to record filters",
	}, []string{"index"})

	QueriesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encdex_index_queries_total",
		Help: "Query filters built",
	}, []string{"index"})
)
