package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/stone-age-io/fieldnode/internal/tasks"
	"github.com/stone-age-io/fieldnode/internal/utils"
	"go.uber.org/zap"
)

// StateReporter exposes the node's initialization state
type StateReporter interface {
	State() string
	Stalled() bool
}

// FreeSpacer reports the free space left on the artifact card
type FreeSpacer interface {
	FreeBytes() (uint64, error)
}

// Connection is the mesh connection commands are served on
type Connection interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Stats() nats.Statistics
}

// CommandHandlers manages all command subscriptions and handlers
type CommandHandlers struct {
	logger        *zap.Logger
	subjectPrefix string
	nodeID        uint32
	version       string
	bootID        string
	executor      *tasks.Executor
	lifecycle     StateReporter
	storage       FreeSpacer
	host          *tasks.HostCollector
	conn          Connection
}

// NewCommandHandlers creates a new command handler manager
func NewCommandHandlers(
	logger *zap.Logger,
	subjectPrefix string,
	nodeID uint32,
	version string,
	executor *tasks.Executor,
	lifecycle StateReporter,
	storage FreeSpacer,
) *CommandHandlers {
	return &CommandHandlers{
		logger:        logger,
		subjectPrefix: subjectPrefix,
		nodeID:        nodeID,
		version:       version,
		bootID:        uuid.NewString(),
		executor:      executor,
		lifecycle:     lifecycle,
		storage:       storage,
		host:          tasks.NewHostCollector(logger),
	}
}

// BootID identifies this process run
func (h *CommandHandlers) BootID() string {
	return h.bootID
}

// handleWithRecovery wraps a handler with panic recovery so a panic in one
// handler cannot take the node down
func handleWithRecovery(logger *zap.Logger, name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))

				if msg.Reply == "" {
					return
				}
				response := errorResponse{
					Status:    "error",
					Error:     fmt.Sprintf("Internal error: handler panicked: %v", r),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				}
				responseBytes, _ := json.Marshal(response)
				msg.Respond(responseBytes)
			}
		}()

		handler(msg)
	}
}

// SubscribeAll subscribes to the node's package subject and all command
// subjects. The connection is reported by the status command.
func (h *CommandHandlers) SubscribeAll(client Connection, router *Router) error {
	h.conn = client

	subscriptions := []struct {
		name    string
		subject string
		handler nats.MsgHandler
	}{
		{"packages", PackageSubject(h.subjectPrefix, h.nodeID), router.HandleMsg},
		{"ping", CommandSubject(h.subjectPrefix, h.nodeID, "ping"), h.handlePing},
		{"status", CommandSubject(h.subjectPrefix, h.nodeID, "status"), h.handleStatus},
		{"metrics", CommandSubject(h.subjectPrefix, h.nodeID, "metrics"), h.handleMetrics},
	}

	for _, s := range subscriptions {
		if _, err := client.Subscribe(s.subject, handleWithRecovery(h.logger, s.name, s.handler)); err != nil {
			return err
		}
	}
	return nil
}

// Response structures

type pingResponse struct {
	Status    string `json:"status"`
	NodeID    uint32 `json:"node_id"`
	Timestamp string `json:"timestamp"`
}

type statusResponse struct {
	Status     string                   `json:"status"`
	NodeID     uint32                   `json:"node_id"`
	ShortID    uint32                   `json:"short_id"`
	Version    string                   `json:"version"`
	BootID     string                   `json:"boot_id"`
	State      string                   `json:"state"`
	Stalled    bool                     `json:"stalled"`
	CardFreeMB *float64                 `json:"card_free_mb,omitempty"`
	Mesh       *meshStatus              `json:"mesh,omitempty"`
	Host       *tasks.HostMetrics       `json:"host"`
	Process    *tasks.NodeMetrics       `json:"process"`
	Tasks      *tasks.TaskHealthMetrics `json:"tasks"`
	Timestamp  string                   `json:"timestamp"`
}

type meshStatus struct {
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
	InMsgs     uint64 `json:"in_msgs"`
	OutMsgs    uint64 `json:"out_msgs"`
	OutBytes   uint64 `json:"out_bytes"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// handlePing responds to ping commands
func (h *CommandHandlers) handlePing(msg *nats.Msg) {
	h.logger.Debug("Received ping command")

	response := pingResponse{
		Status:    "pong",
		NodeID:    h.nodeID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	responseBytes, _ := json.Marshal(response)
	msg.Respond(responseBytes)
}

// handleStatus returns the node's lifecycle, queue and task health
func (h *CommandHandlers) handleStatus(msg *nats.Msg) {
	h.logger.Debug("Received status command")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	responseBytes, _ := json.Marshal(h.buildStatus(ctx))
	msg.Respond(responseBytes)
}

func (h *CommandHandlers) buildStatus(ctx context.Context) *statusResponse {
	response := &statusResponse{
		Status:    "healthy",
		NodeID:    h.nodeID,
		ShortID:   report.ShortID(h.nodeID),
		Version:   h.version,
		BootID:    h.bootID,
		State:     h.lifecycle.State(),
		Stalled:   h.lifecycle.Stalled(),
		Host:      h.host.Collect(ctx),
		Process:   h.executor.GetNodeMetrics(),
		Tasks:     h.executor.GetTaskMetrics(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if response.Stalled {
		response.Status = "stalled"
	}

	free, err := h.storage.FreeBytes()
	if err != nil {
		h.logger.Debug("Card free space unavailable", zap.Error(err))
	} else {
		mb := utils.Megabytes(free)
		response.CardFreeMB = &mb
	}

	if h.conn != nil {
		stats := h.conn.Stats()
		response.Mesh = &meshStatus{
			Connected:  h.conn.IsConnected(),
			Reconnects: stats.Reconnects,
			InMsgs:     stats.InMsgs,
			OutMsgs:    stats.OutMsgs,
			OutBytes:   stats.OutBytes,
		}
	}

	return response
}

// handleMetrics returns the task counters in the Prometheus text format
func (h *CommandHandlers) handleMetrics(msg *nats.Msg) {
	h.logger.Debug("Received metrics command")

	var buf bytes.Buffer
	if err := h.executor.WriteMetrics(&buf); err != nil {
		h.logger.Error("Failed to render metrics", zap.Error(err))
		h.respondError(msg, "Failed to render metrics")
		return
	}
	msg.Respond(buf.Bytes())
}

// respondError sends a generic error response
func (h *CommandHandlers) respondError(msg *nats.Msg, errorMsg string) {
	response := errorResponse{
		Status:    "error",
		Error:     errorMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	responseBytes, _ := json.Marshal(response)
	msg.Respond(responseBytes)
}
