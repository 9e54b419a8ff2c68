package watchhistory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var progressRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "watch_history_progress_recorded_total",
	Help: "Number of playback positions stored",
}, []string{"completed"})

var progressSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "watch_history_progress_skipped_total",
	Help: "Number of playback updates dropped because the user disabled history",
})
