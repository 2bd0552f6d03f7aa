package repo

import "github.com/prometheus/client_golang/prometheus"

var reconnects = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "video_store_reconnects_total",
	Help: "Database handle replacements after a lost connection.",
})

func init() {
	prometheus.MustRegister(reconnects)
}
