package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerfeat_build_info",
		Help: "Build information of the feature builder",
	}, []string{"version", "commit", "date"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerfeat_runs_total", Help: "Pipeline runs by command and result.",
	}, []string{"command", "result"})
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powerfeat_run_duration_seconds",
		Help:    "Duration of pipeline runs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"command"})
	StageDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerfeat_stage_duration_seconds", Help: "Duration of the last run of each pipeline stage.",
	}, []string{"stage"})

	TableRowsRead = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerfeat_table_rows_read", Help: "Rows read from each input table in the last run.",
	}, []string{"table"})
	TableRowsWritten = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerfeat_table_rows_written", Help: "Rows written to each output table in the last run.",
	}, []string{"table"})

	JoinRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powerfeat_fusion_join_rows", Help: "Row counts around each fusion join in the last run.",
	}, []string{"stage", "side"})
	EmptiedJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powerfeat_fusion_emptied_joins_total", Help: "Joins that dropped every row.",
	}, []string{"stage"})
)

// WriteTextfile dumps the default registry to path in the text exposition format
// for the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
