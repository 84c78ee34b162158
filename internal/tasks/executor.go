package tasks

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stone-age-io/fieldnode/internal/camera"
	"github.com/stone-age-io/fieldnode/internal/classifier"
	"github.com/stone-age-io/fieldnode/internal/counter"
	"github.com/stone-age-io/fieldnode/internal/queue"
	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/stone-age-io/fieldnode/internal/utils"
	"go.uber.org/zap"
)

// Transport hands a report to the mesh. A nil error means the mesh
// accepted the package for delivery.
type Transport interface {
	SendReport(ctx context.Context, r report.Record) error
}

// ArtifactStore is the part of storage the periodic duties write to
type ArtifactStore interface {
	WritePicture(name string, data []byte) (string, error)
	WriteReport(name string, data []byte) (string, error)
	AppendLine(path, line string) error
}

// Settings holds the executor's identity and tuning
type Settings struct {
	NodeID        uint32
	Destination   uint32
	Threshold     float64
	QueueCapacity int
	SpillDropped  bool
}

// Executor runs the capture, delivery and uptime duties.
//
// The report queue and the sequence counter are owned by the executor and
// touched only from task bodies, which the scheduler never runs
// concurrently. Everything readable from other goroutines goes through
// TaskStats.
type Executor struct {
	logger     *zap.Logger
	clock      clockwork.Clock
	settings   Settings
	camera     camera.Camera
	classifier classifier.Classifier
	store      ArtifactStore
	transport  Transport

	queue     *queue.Queue[report.Record]
	counter   *counter.Counter
	uptimeLog string

	startTime time.Time
	stats     *TaskStats
}

// TaskStats tracks duty execution for monitoring
type TaskStats struct {
	mu sync.RWMutex

	// Execution timestamps
	lastCapture  time.Time
	lastDelivery time.Time
	lastUptime   time.Time

	// Execution counters
	captureCount     int64
	captureFailures  int64
	picturesSaved    int64
	reportsEnqueued  int64
	reportsDiscarded int64
	reportsDropped   int64
	reportsSpilled   int64
	deliveryCount    int64
	deliveryFailures int64
	uptimeCount      int64
	uptimeFailures   int64

	// Mirrors of executor-owned state, refreshed by the task bodies
	queueDepth    int
	queueCapacity int
	counterValue  uint32
	counterLoaded bool
}

// NodeMetrics represents process self-monitoring metrics
type NodeMetrics struct {
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// TaskHealthMetrics represents duty health
type TaskHealthMetrics struct {
	LastCapture  string `json:"last_capture,omitempty"`
	LastDelivery string `json:"last_delivery,omitempty"`
	LastUptime   string `json:"last_uptime,omitempty"`

	CaptureCount     int64 `json:"capture_count"`
	CaptureFailures  int64 `json:"capture_failures"`
	PicturesSaved    int64 `json:"pictures_saved"`
	ReportsEnqueued  int64 `json:"reports_enqueued"`
	ReportsDiscarded int64 `json:"reports_discarded"`
	ReportsDropped   int64 `json:"reports_dropped"`
	ReportsSpilled   int64 `json:"reports_spilled"`
	DeliveryCount    int64 `json:"delivery_count"`
	DeliveryFailures int64 `json:"delivery_failures"`
	UptimeCount      int64 `json:"uptime_count"`
	UptimeFailures   int64 `json:"uptime_failures"`

	QueueDepth    int     `json:"queue_depth"`
	QueueCapacity int     `json:"queue_capacity"`
	Counter       *uint32 `json:"counter,omitempty"`
}

// NewExecutor creates a new task executor. The sequence counter is attached
// later by Ready, once storage is up.
func NewExecutor(
	logger *zap.Logger,
	clock clockwork.Clock,
	settings Settings,
	cam camera.Camera,
	cls classifier.Classifier,
	store ArtifactStore,
	transport Transport,
) *Executor {
	q := queue.New[report.Record](settings.QueueCapacity)

	return &Executor{
		logger:     logger,
		clock:      clock,
		settings:   settings,
		camera:     cam,
		classifier: cls,
		store:      store,
		transport:  transport,
		queue:      q,
		startTime:  clock.Now(),
		stats:      &TaskStats{queueCapacity: q.Cap()},
	}
}

// Ready attaches the sequence counter and the uptime log chosen at storage
// initialization. It must be called from a task body.
func (e *Executor) Ready(ctr *counter.Counter, uptimeLog string) {
	e.counter = ctr
	e.uptimeLog = uptimeLog

	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.counterValue = ctr.Value()
	e.stats.counterLoaded = true
}

// ShortID returns this node's short id
func (e *Executor) ShortID() uint32 {
	return report.ShortID(e.settings.NodeID)
}

// GetNodeMetrics returns current process metrics
func (e *Executor) GetNodeMetrics() *NodeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &NodeMetrics{
		// mem.Sys is the full process footprint, not just the heap
		MemoryUsageMB: utils.Megabytes(mem.Sys),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(e.clock.Since(e.startTime).Seconds()),
	}
}

// GetTaskMetrics returns duty execution metrics
func (e *Executor) GetTaskMetrics() *TaskHealthMetrics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	metrics := &TaskHealthMetrics{
		CaptureCount:     e.stats.captureCount,
		CaptureFailures:  e.stats.captureFailures,
		PicturesSaved:    e.stats.picturesSaved,
		ReportsEnqueued:  e.stats.reportsEnqueued,
		ReportsDiscarded: e.stats.reportsDiscarded,
		ReportsDropped:   e.stats.reportsDropped,
		ReportsSpilled:   e.stats.reportsSpilled,
		DeliveryCount:    e.stats.deliveryCount,
		DeliveryFailures: e.stats.deliveryFailures,
		UptimeCount:      e.stats.uptimeCount,
		UptimeFailures:   e.stats.uptimeFailures,
		QueueDepth:       e.stats.queueDepth,
		QueueCapacity:    e.stats.queueCapacity,
	}

	if e.stats.counterLoaded {
		value := e.stats.counterValue
		metrics.Counter = &value
	}

	// Only include timestamps if tasks have executed
	if !e.stats.lastCapture.IsZero() {
		metrics.LastCapture = e.stats.lastCapture.UTC().Format(time.RFC3339)
	}
	if !e.stats.lastDelivery.IsZero() {
		metrics.LastDelivery = e.stats.lastDelivery.UTC().Format(time.RFC3339)
	}
	if !e.stats.lastUptime.IsZero() {
		metrics.LastUptime = e.stats.lastUptime.UTC().Format(time.RFC3339)
	}

	return metrics
}

// recordCapture records a capture attempt
func (e *Executor) recordCapture() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.lastCapture = e.clock.Now()
	e.stats.captureCount++
}

// recordCaptureFailure records a capture cycle that ended early
func (e *Executor) recordCaptureFailure() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.captureFailures++
}

// recordPictureSaved records a persisted picture and the advanced counter
func (e *Executor) recordPictureSaved(seq uint32) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.picturesSaved++
	e.stats.counterValue = seq
}

// recordDiscarded records a report below the confidence threshold
func (e *Executor) recordDiscarded() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.reportsDiscarded++
}

// recordEnqueued records a queued report and whether it evicted another
func (e *Executor) recordEnqueued(dropped bool) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.reportsEnqueued++
	if dropped {
		e.stats.reportsDropped++
	}
	e.stats.queueDepth = e.queue.Len()
}

// recordSpilled records an evicted report written to storage
func (e *Executor) recordSpilled() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.reportsSpilled++
}

// recordDelivery records a report accepted by the transport
func (e *Executor) recordDelivery() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.lastDelivery = e.clock.Now()
	e.stats.deliveryCount++
	e.stats.queueDepth = e.queue.Len()
}

// recordDeliveryFailure records a failed send
func (e *Executor) recordDeliveryFailure() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.deliveryFailures++
}

// recordUptime records an uptime entry
func (e *Executor) recordUptime(ok bool) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	if !ok {
		e.stats.uptimeFailures++
		return
	}
	e.stats.lastUptime = e.clock.Now()
	e.stats.uptimeCount++
}
