package tasks

import (
	"fmt"
	"io"
	"strconv"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// metricPrefix namespaces every exported metric
const metricPrefix = "fieldnode_"

// MetricFamilies renders the duty counters as Prometheus metric families,
// each labelled with the node's short id
func (e *Executor) MetricFamilies() []*dto.MetricFamily {
	m := e.GetTaskMetrics()
	node := e.GetNodeMetrics()
	labels := []*dto.LabelPair{label("node", strconv.FormatUint(uint64(e.ShortID()), 10))}

	families := []*dto.MetricFamily{
		counterFamily("captures_total", "Capture cycles started.", m.CaptureCount, labels),
		counterFamily("capture_failures_total", "Capture cycles that ended early.", m.CaptureFailures, labels),
		counterFamily("pictures_saved_total", "Pictures persisted to storage.", m.PicturesSaved, labels),
		counterFamily("reports_enqueued_total", "Reports pushed to the report queue.", m.ReportsEnqueued, labels),
		counterFamily("reports_discarded_total", "Reports below the confidence threshold.", m.ReportsDiscarded, labels),
		counterFamily("reports_dropped_total", "Reports evicted from a full queue.", m.ReportsDropped, labels),
		counterFamily("reports_spilled_total", "Evicted reports written to storage.", m.ReportsSpilled, labels),
		counterFamily("deliveries_total", "Reports accepted by the mesh.", m.DeliveryCount, labels),
		counterFamily("delivery_failures_total", "Report sends that failed.", m.DeliveryFailures, labels),
		counterFamily("uptime_entries_total", "Entries appended to the uptime log.", m.UptimeCount, labels),
		gaugeFamily("queue_depth", "Reports waiting for delivery.", float64(m.QueueDepth), labels),
		gaugeFamily("queue_capacity", "Report queue capacity.", float64(m.QueueCapacity), labels),
		gaugeFamily("uptime_seconds", "Seconds since the node started.", float64(node.UptimeSeconds), labels),
	}

	if m.Counter != nil {
		families = append(families,
			gaugeFamily("sequence_counter", "Last committed picture sequence number.", float64(*m.Counter), labels))
	}

	return families
}

// WriteMetrics writes the duty counters in the Prometheus text format
func (e *Executor) WriteMetrics(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range e.MetricFamilies() {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to finish metrics: %w", err)
		}
	}
	return nil
}

func counterFamily(name, help string, value int64, labels []*dto.LabelPair) *dto.MetricFamily {
	v := float64(value)
	return &dto.MetricFamily{
		Name: stringPtr(metricPrefix + name),
		Help: stringPtr(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Label:   labels,
			Counter: &dto.Counter{Value: &v},
		}},
	}
}

func gaugeFamily(name, help string, value float64, labels []*dto.LabelPair) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: stringPtr(metricPrefix + name),
		Help: stringPtr(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Label: labels,
			Gauge: &dto.Gauge{Value: &value},
		}},
	}
}

// label builds a label pair
func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: stringPtr(name), Value: stringPtr(value)}
}

func stringPtr(s string) *string {
	return &s
}
