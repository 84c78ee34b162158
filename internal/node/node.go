// Package node assembles a field node: it brings the camera and the card
// online in order, then runs capture, delivery and uptime logging on the
// cooperative scheduler while answering mesh packages and commands.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stone-age-io/fieldnode/internal/camera"
	"github.com/stone-age-io/fieldnode/internal/classifier"
	"github.com/stone-age-io/fieldnode/internal/config"
	"github.com/stone-age-io/fieldnode/internal/counter"
	"github.com/stone-age-io/fieldnode/internal/mesh"
	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/stone-age-io/fieldnode/internal/scheduler"
	"github.com/stone-age-io/fieldnode/internal/storage"
	"github.com/stone-age-io/fieldnode/internal/tasks"
	"github.com/stone-age-io/fieldnode/internal/wire"
	"go.uber.org/zap"
)

// initPeriod is the nominal period of the one-shot initialization tasks
const initPeriod = time.Second

// Storage is the card as seen by initialization and the periodic duties
type Storage interface {
	tasks.ArtifactStore
	Mount() error
	EnsureLayout() int
	CreateUptimeLog() (string, error)
	FreeBytes() (uint64, error)
}

// Dependencies are the collaborators a node is assembled from
type Dependencies struct {
	Clock        clockwork.Clock
	Camera       camera.Camera
	Classifier   classifier.Classifier
	Storage      Storage
	CounterStore counter.Store
	Transport    tasks.Transport
}

// Node represents a running field node
type Node struct {
	config    *config.Config
	logger    *zap.Logger
	nodeID    uint32
	version   string
	lifecycle *Lifecycle

	camera       camera.Camera
	storage      Storage
	counterStore counter.Store

	scheduler *scheduler.Scheduler
	executor  *tasks.Executor
	router    *mesh.Router
	handlers  *mesh.CommandHandlers
	client    *mesh.Client

	initCamera  *scheduler.Task
	initStorage *scheduler.Task
	capture     *scheduler.Task
	deliver     *scheduler.Task
	uptime      *scheduler.Task

	cameraRetry  backoff
	storageRetry backoff

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// backoff doubles a delay up to a ceiling
type backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func newBackoff(initial, ceiling time.Duration) backoff {
	return backoff{initial: initial, max: ceiling, next: initial}
}

// advance returns the delay to wait now and doubles the following one
func (b *backoff) advance() time.Duration {
	delay := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return delay
}

func (b *backoff) reset() {
	b.next = b.initial
}

// New loads the configuration at configPath and assembles a node connected
// to the mesh
func New(configPath string, version string) (*Node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	nodeID, err := mesh.ResolveNodeID(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node id: %w", err)
	}

	logger.Info("Starting fieldnode",
		zap.String("version", version),
		zap.Uint32("node_id", nodeID),
		zap.Uint32("short_id", report.ShortID(nodeID)),
		zap.Uint32("collection_node_id", cfg.CollectionNodeID))

	cam, err := camera.New(camera.Config{
		Source:      cfg.Camera.Source,
		Directory:   cfg.Camera.Directory,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		JPEGQuality: cfg.Camera.JPEGQuality,
		Buffers:     cfg.Camera.Buffers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}

	cls, err := classifier.New(cfg.Classifier.Source, cfg.Classifier.URL, cfg.Classifier.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	client, err := mesh.NewClient(&cfg.Mesh, fmt.Sprintf("fieldnode-%d", nodeID), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mesh: %w", err)
	}

	n, err := Assemble(cfg, nodeID, version, logger, Dependencies{
		Clock:        clockwork.NewRealClock(),
		Camera:       cam,
		Classifier:   cls,
		Storage:      storage.NewOnDisk(cfg.Storage.Root, logger),
		CounterStore: counter.NewFileStore(afero.NewOsFs(), cfg.Storage.CounterFile),
		Transport:    mesh.NewTransport(client, cfg.SubjectPrefix, cfg.Mesh.SendTimeout, logger),
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	n.client = client

	logger.Info("Subscribing to packages and commands...")
	if err := n.handlers.SubscribeAll(client, n.router); err != nil {
		n.cancel()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return n, nil
}

// Assemble wires a node from its collaborators without touching the mesh
func Assemble(cfg *config.Config, nodeID uint32, version string, logger *zap.Logger, deps Dependencies) (*Node, error) {
	if nodeID == 0 {
		return nil, fmt.Errorf("node id must not be 0")
	}
	if nodeID == cfg.CollectionNodeID {
		return nil, fmt.Errorf("node id %d is the collection node id", nodeID)
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		config:       cfg,
		logger:       logger,
		nodeID:       nodeID,
		version:      version,
		lifecycle:    &Lifecycle{},
		camera:       deps.Camera,
		storage:      deps.Storage,
		counterStore: deps.CounterStore,
		cameraRetry:  newBackoff(cfg.Init.Retry.InitialBackoff, cfg.Init.Retry.MaxBackoff),
		storageRetry: newBackoff(cfg.Init.Retry.InitialBackoff, cfg.Init.Retry.MaxBackoff),
		ctx:          ctx,
		cancel:       cancel,
	}

	n.executor = tasks.NewExecutor(logger, deps.Clock, tasks.Settings{
		NodeID:        nodeID,
		Destination:   cfg.CollectionNodeID,
		Threshold:     cfg.Classifier.Threshold,
		QueueCapacity: cfg.Queue.Capacity,
		SpillDropped:  cfg.Queue.SpillDropped,
	}, deps.Camera, deps.Classifier, deps.Storage, deps.Transport)

	n.scheduler = scheduler.New(deps.Clock, logger)
	n.initCamera = n.scheduler.Add("init-camera", initPeriod, scheduler.Once, n.initCameraTask)
	n.initStorage = n.scheduler.Add("init-storage", initPeriod, scheduler.Once, n.initStorageTask)
	n.capture = n.scheduler.Add("capture", cfg.Tasks.CaptureInterval, scheduler.Forever, n.executor.Capture)
	n.deliver = n.scheduler.Add("deliver", cfg.Tasks.DeliveryInterval, scheduler.Forever, n.executor.Deliver)
	n.uptime = n.scheduler.Add("uptime", cfg.Tasks.UptimeInterval, scheduler.Forever, n.executor.LogUptime)

	// Delivery does not depend on local hardware and runs from the start
	n.initCamera.Enable()
	n.deliver.Enable()

	n.router = mesh.NewRouter(logger)
	if err := n.router.Handle(wire.TypeReport, n.handleReport); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register report handler: %w", err)
	}

	n.handlers = mesh.NewCommandHandlers(logger, cfg.SubjectPrefix, nodeID, version, n.executor, n.lifecycle, deps.Storage)

	return n, nil
}

// initCameraTask brings the camera online and hands over to storage
// initialization
func (n *Node) initCameraTask(ctx context.Context) {
	if err := n.camera.Init(ctx); err != nil {
		n.initFailed(n.initCamera, &n.cameraRetry, "Camera", err)
		return
	}
	n.cameraRetry.reset()

	if err := n.advance(CameraReady, StorageUninitialized); err != nil {
		n.logger.Error("Camera initialization out of order", zap.Error(err))
		return
	}

	n.logger.Info("Camera ready", zap.String("camera", n.camera.Name()))
	n.initStorage.Enable()
}

// initStorageTask mounts the card, prepares its layout, opens the sequence
// counter and enables the duties that write to the card
func (n *Node) initStorageTask(ctx context.Context) {
	if err := n.storage.Mount(); err != nil {
		n.initFailed(n.initStorage, &n.storageRetry, "Storage", err)
		return
	}

	if failed := n.storage.EnsureLayout(); failed > 0 {
		n.logger.Warn("Some card directories could not be created", zap.Int("failed", failed))
	}

	ctr, err := counter.Open(n.counterStore)
	if err != nil {
		n.initFailed(n.initStorage, &n.storageRetry, "Storage", err)
		return
	}
	n.storageRetry.reset()

	uptimeLog, err := n.storage.CreateUptimeLog()
	if err != nil {
		n.logger.Error("Failed to create uptime log, uptime entries will be skipped", zap.Error(err))
		uptimeLog = ""
	}

	if err := n.lifecycle.Transition(StorageReady); err != nil {
		n.logger.Error("Storage initialization out of order", zap.Error(err))
		return
	}

	n.executor.Ready(ctr, uptimeLog)
	n.capture.Enable()
	n.uptime.EnableDelayed(n.uptime.Period())

	if err := n.lifecycle.Transition(Operational); err != nil {
		n.logger.Error("Storage initialization out of order", zap.Error(err))
		return
	}

	n.logger.Info("Node operational",
		zap.String("uptime_log", uptimeLog),
		zap.Uint32("counter", ctr.Value()))
}

// advance performs consecutive lifecycle transitions
func (n *Node) advance(states ...State) error {
	for _, s := range states {
		if err := n.lifecycle.Transition(s); err != nil {
			return err
		}
	}
	return nil
}

// initFailed applies the initialization failure policy: re-arm with
// backoff when retries are enabled, otherwise stall until restart
func (n *Node) initFailed(task *scheduler.Task, retry *backoff, subsystem string, err error) {
	if !n.config.Init.Retry.Enabled {
		n.lifecycle.MarkStalled()
		n.logger.Error(subsystem+" initialization failed, node stalled until restart",
			zap.String("state", n.lifecycle.State()),
			zap.Error(err))
		return
	}

	delay := retry.advance()
	task.EnableDelayed(delay)
	n.logger.Warn(subsystem+" initialization failed, retrying",
		zap.String("state", n.lifecycle.State()),
		zap.Duration("retry_in", delay),
		zap.Error(err))
}

// handleReport accepts a report package addressed to this node
func (n *Node) handleReport(data []byte) error {
	rec, err := wire.Decode(data)
	if err != nil {
		return err
	}
	if rec.Destination() != n.nodeID {
		return fmt.Errorf("report %s is addressed to node %d", rec.FileName(), rec.Destination())
	}

	n.logger.Info("Report received",
		zap.Uint32("from", rec.Origin()),
		zap.String("artifact", rec.FileName()),
		zap.Float64("confidence", rec.Confidence()))
	return nil
}

// Lifecycle returns the node's initialization state
func (n *Node) Lifecycle() *Lifecycle {
	return n.lifecycle
}

// Start begins ticking the scheduler
func (n *Node) Start() error {
	if err := n.scheduler.Start(n.ctx, n.config.Tasks.Tick); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	n.logger.Info("Node running",
		zap.Uint32("node_id", n.nodeID),
		zap.String("version", n.version))
	return nil
}

// Shutdown gracefully stops the node. It is safe to call more than once.
func (n *Node) Shutdown() error {
	n.shutdownOnce.Do(func() {
		n.logger.Info("Shutting down node gracefully")

		n.cancel()

		if err := n.scheduler.Shutdown(); err != nil {
			n.logger.Error("Error shutting down scheduler", zap.Error(err))
		}

		if n.client != nil {
			drainCtx, drainCancel := context.WithTimeout(context.Background(), n.config.Mesh.DrainTimeout)
			defer drainCancel()

			if err := n.client.Drain(drainCtx); err != nil {
				n.logger.Error("Error draining mesh connection", zap.Error(err))
			}
		}

		n.logger.Info("Node shutdown complete")
		n.logger.Sync()
	})
	return nil
}
