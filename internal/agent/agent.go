// Package agent implements the tool-use loop runtime: one long-lived agent
// per type, fed by the bus, driving the LLM against the tool registry and
// recording traces and learnings through the memory tiers.
package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/internal/config"
	"github.com/pai-platform/pai/internal/convo"
	"github.com/pai-platform/pai/internal/costs"
	"github.com/pai-platform/pai/internal/hooks"
	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/internal/memory"
	"github.com/pai-platform/pai/internal/memory/phase"
	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/internal/tools"
	"github.com/pai-platform/pai/pkg/models"
)

const (
	// defaultMaxTokens is the per-call output budget handed to the LLM.
	defaultMaxTokens = 4096

	// heartbeatKeyTTL bounds the key-value mirror of the heartbeat.
	heartbeatKeyTTL = 60 * time.Second

	// chatHistoryLimit caps how many prior messages a chat task reloads.
	chatHistoryLimit = 20
)

// Deps collects the shared infrastructure an agent is built on.
type Deps struct {
	Bus      bus.Bus
	Store    kv.Store
	LLM      *llm.Router
	Registry *tools.Registry
	Memory   *memory.Manager
	Phase    *phase.Manager
	Hooks    *hooks.Registry
	Costs    *costs.Tracker
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Agent is one runtime instance. Task processing is serial per agent; the
// only intra-task parallelism lives in the tool executor.
type Agent struct {
	cfg  config.AgentConfig
	deps Deps

	convo     *convo.Manager
	validator *tools.Validator
	logger    *slog.Logger

	mu             sync.Mutex
	status         models.AgentStatus
	currentTask    string
	currentUser    string
	currentConvo   string
	tasksCompleted int

	control   *controlState
	startedAt time.Time
	stopping  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New builds an agent from its config and shared dependencies.
func New(cfg config.AgentConfig, deps Deps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent", cfg.Name)
	return &Agent{
		cfg:       cfg,
		deps:      deps,
		convo:     convo.NewManager(deps.LLM, logger),
		validator: tools.NewValidator(),
		logger:    logger,
		status:    models.StatusIdle,
		control:   newControlState(),
		stopping:  make(chan struct{}),
	}
}

// Name returns the agent's instance name.
func (a *Agent) Name() string { return a.cfg.Name }

// Type returns the agent type this instance serves.
func (a *Agent) Type() string { return a.cfg.Type }

// Status returns the agent's coarse lifecycle status.
func (a *Agent) Status() models.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// CurrentTask returns the id of the task being processed, if any.
func (a *Agent) CurrentTask() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentTask
}

func (a *Agent) setStatus(status models.AgentStatus) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

func (a *Agent) setCurrentTask(taskID, userID, conversationID string) {
	a.mu.Lock()
	a.currentTask = taskID
	a.currentUser = userID
	a.currentConvo = conversationID
	a.mu.Unlock()
}

func (a *Agent) scope() (userID, conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentUser, a.currentConvo
}

func (a *Agent) isStopping() bool {
	select {
	case <-a.stopping:
		return true
	default:
		return false
	}
}
