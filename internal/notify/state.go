package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Phase is the push-capability initialization phase. It is owned entirely
// by PushState; the rest of the agent only ever asks Ready().
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Default provider identifiers, used when a FIREBASE_CONFIG message arrives
// without an API key. Mirrors the shipped application defaults.
const defaultProjectID = "hhs-booking-push-notification"

// PushState tracks whether the external push collaborator has been
// configured. The state value is mutated only here; callers observe it
// through Ready().
type PushState struct {
	mu    sync.RWMutex
	phase Phase
	// projectID of the active configuration, for logging/status only.
	projectID string
	log       *zap.Logger
}

func NewPushState(log *zap.Logger) *PushState {
	if log == nil {
		log = zap.NewNop()
	}
	return &PushState{phase: PhaseUninitialized, log: log}
}

// Configure applies a FIREBASE_CONFIG control message. A configuration
// without an API key falls back to the built-in defaults with a warning;
// configuring an already-ready state is a logged no-op, matching the
// original once-only initialization.
func (s *PushState) Configure(config map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseReady {
		s.log.Info("push capability already configured")
		return
	}
	s.phase = PhaseInitializing

	projectID := defaultProjectID
	if v, ok := config["projectId"].(string); ok && v != "" {
		projectID = v
	}
	apiKey, _ := config["apiKey"].(string)
	if apiKey == "" {
		s.log.Warn("push config carries no API key, using default configuration",
			zap.String("project_id", defaultProjectID))
		projectID = defaultProjectID
	}

	s.projectID = projectID
	s.phase = PhaseReady
	s.log.Info("push capability ready",
		zap.String("project_id", projectID),
		zap.Bool("has_api_key", apiKey != ""))
}

// Fail marks the capability as failed (e.g. the collaborator bootstrap
// reported an unrecoverable error).
func (s *PushState) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseFailed
}

// Ready is the single capability check consulted before rendering.
func (s *PushState) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase == PhaseReady
}

// Phase returns the current phase, for the status endpoint.
func (s *PushState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}
