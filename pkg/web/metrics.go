package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

var (
	changeRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockgraph_change_records_total",
		Help: "Change records emitted by the served workspace, by type",
	}, []string{"type"})

	dragsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockgraph_drags_total",
		Help: "Finished drags, by outcome",
	}, []string{"outcome"})

	blocksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blockgraph_blocks",
		Help: "Blocks on the served workspace",
	})

	undoDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blockgraph_undo_depth",
		Help: "Records on the undo stack",
	})

	dragsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blockgraph_open_drags",
		Help: "Drags started but not yet ended or cancelled",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockgraph_http_request_duration_seconds",
		Help:    "Duration of API requests",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25},
	}, []string{"route", "method", "status"})
)

func countRecord(e model.Event) {
	changeRecordsTotal.WithLabelValues(string(e.Type())).Inc()
}

// instrument times API requests by route template
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		sw := logging.NewStatusWriter(w)
		start := time.Now()
		next.ServeHTTP(sw, r)
		requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(sw.Status())).Observe(time.Since(start).Seconds())
	})
}
