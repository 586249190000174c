package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/logger"
	"feedmesh/internal/utils"
)

// AccessLog logs one line per request and records its latency in metrics.
// Long-lived upgrades are logged when they end.
func AccessLog(log *logrus.Entry, metrics *utils.MetricsCollector) func(http.Handler) http.Handler {
	log = logger.OrDefault(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			if metrics != nil {
				metrics.AddOperationLatency("http", m.Duration)
			}

			entry := log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   m.Code,
				"bytes":    m.Written,
				"duration": m.Duration,
			})
			if m.Code >= http.StatusInternalServerError {
				entry.Warn("handled")
			} else {
				entry.Debug("handled")
			}
		})
	}
}
