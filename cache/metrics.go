package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hits             prometheus.Counter
	misses           prometheus.Counter
	evictions        prometheus.Counter
	evictionFailures prometheus.Counter
	saves            prometheus.Counter
	saveFailures     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, dbID string, resident func() float64) *metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   "markov",
			Subsystem:   "shard_cache",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"database": dbID},
		})
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "markov",
		Subsystem:   "shard_cache",
		Name:        "resident_shards",
		Help:        "Shards currently held in memory, excluding the start shard.",
		ConstLabels: prometheus.Labels{"database": dbID},
	}, resident)

	return &metrics{
		hits:             counter("hits_total", "Shard lookups served from memory."),
		misses:           counter("misses_total", "Shard lookups that went to the backend."),
		evictions:        counter("evictions_total", "Shards dropped from memory."),
		evictionFailures: counter("eviction_failures_total", "Evictions abandoned because write-back failed."),
		saves:            counter("saves_total", "Shard blobs written to the backend."),
		saveFailures:     counter("save_failures_total", "Shard blob writes that failed."),
	}
}
