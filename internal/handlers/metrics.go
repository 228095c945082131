package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var startTime = time.Now()

var _ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: "testcasecraft",
	Name:      "uptime_seconds",
	Help:      "Time since server start in seconds",
}, func() float64 { return time.Since(startTime).Seconds() })

// RegisterDBMetrics exports connection pool statistics for db.
func RegisterDBMetrics(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	err = prometheus.Register(collectors.NewDBStatsCollector(sqlDB, "testcasecraft"))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// Metrics serves the Prometheus exposition format.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
