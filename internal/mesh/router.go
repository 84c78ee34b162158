package mesh

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/fieldnode/internal/wire"
	"go.uber.org/zap"
)

// MinApplicationType is the lowest package type tag applications may use.
// Lower tags belong to the mesh itself.
const MinApplicationType = 30

var (
	// ErrUnknownPackage is returned for packages with no registered handler
	ErrUnknownPackage = errors.New("no handler for package type")

	// ErrReservedType is returned when registering a mesh-reserved tag
	ErrReservedType = errors.New("package type reserved by the mesh")
)

// PackageHandler processes the payload of one inbound package
type PackageHandler func(data []byte) error

// Router dispatches inbound packages to handlers by type tag
type Router struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[int]PackageHandler
}

// NewRouter creates an empty router
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		logger:   logger,
		handlers: make(map[int]PackageHandler),
	}
}

// Handle registers the handler for a package type tag
func (r *Router) Handle(tag int, handler PackageHandler) error {
	if tag < MinApplicationType {
		return fmt.Errorf("%w: %d", ErrReservedType, tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[tag]; exists {
		return fmt.Errorf("handler for package type %d already registered", tag)
	}
	r.handlers[tag] = handler
	return nil
}

// Dispatch routes data to the handler registered for its type tag
func (r *Router) Dispatch(data []byte) error {
	tag, err := wire.PackageType(data)
	if err != nil {
		return err
	}

	r.mu.RLock()
	handler, ok := r.handlers[tag]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownPackage, tag)
	}
	return handler(data)
}

type packageResponse struct {
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HandleMsg is the subscription handler for the node's package subject.
// It answers {"accepted":bool} when the sender asked for a reply.
func (r *Router) HandleMsg(msg *nats.Msg) {
	err := r.Dispatch(msg.Data)
	if err != nil {
		r.logger.Warn("Package rejected",
			zap.String("subject", msg.Subject),
			zap.Int("bytes", len(msg.Data)),
			zap.Error(err))
	}

	if msg.Reply == "" {
		return
	}

	responseBytes, _ := json.Marshal(newPackageResponse(err))
	if respondErr := msg.Respond(responseBytes); respondErr != nil {
		r.logger.Debug("Failed to answer package sender", zap.Error(respondErr))
	}
}

func newPackageResponse(err error) packageResponse {
	response := packageResponse{
		Accepted:  err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		response.Error = err.Error()
	}
	return response
}
