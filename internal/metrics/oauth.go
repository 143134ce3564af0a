package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OAuth lifecycle metrics. Standalone package so that the oauth core and the
// HTTP layer can both record without import cycles.

var (
	ExchangeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_oauth_exchange_total",
		Help: "Intercambios code->token por plataforma y resultado",
	}, []string{"platform", "outcome"})

	RefreshAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_oauth_refresh_attempts_total",
		Help: "Intentos individuales de refresh por plataforma",
	}, []string{"platform"})

	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_oauth_refresh_total",
		Help: "Refreshes por plataforma y resultado (ok|terminal|exhausted)",
	}, []string{"platform", "outcome"})

	RefreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ads_oauth_refresh_duration_ms",
		Help:    "Duración total de un refresh (incluye reintentos) en ms",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"platform"})
)

// Register registers the oauth metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{ExchangeTotal, RefreshAttempts, RefreshTotal, RefreshDuration} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
