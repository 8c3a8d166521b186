package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauthdirac_sessions_created_total",
		Help: "Total number of authentication sessions created.",
	})
	SessionsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauthdirac_sessions_swept_total",
		Help: "Total number of idle sessions removed by the zombie sweep.",
	})
	AuthResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauthdirac_auth_responses_total",
		Help: "Authentication responses parsed, by provider and resulting status.",
	}, []string{"provider", "status"})
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauthdirac_token_refresh_total",
		Help: "Token refresh attempts, by provider and outcome.",
	}, []string{"provider", "outcome"})
	ReservedSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oauthdirac_reserved_sessions",
		Help: "Reserved sessions seen by the last refresh round.",
	})
	ProxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauthdirac_proxy_requests_total",
		Help: "Proxy requests, by proxy provider and outcome.",
	}, []string{"proxy_provider", "outcome"})
	NotificationsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauthdirac_notifications_sent_total",
		Help: "Administrator notifications sent.",
	})
)

// InitCustomMetrics registers the collectors of this package.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"SessionsCreatedTotal":   SessionsCreatedTotal,
		"SessionsSweptTotal":     SessionsSweptTotal,
		"AuthResponsesTotal":     AuthResponsesTotal,
		"TokenRefreshTotal":      TokenRefreshTotal,
		"ReservedSessionsGauge":  ReservedSessionsGauge,
		"ProxyRequestsTotal":     ProxyRequestsTotal,
		"NotificationsSentTotal": NotificationsSentTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
