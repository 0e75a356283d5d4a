package model

import "time"

// Task status constants.
const (
	StatusQueued     = "queued"
	StatusDispatched = "dispatched"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTimedOut   = "timed_out"
	StatusCancelled  = "cancelled"
)

// Worker runtime kinds.
const (
	RuntimeThread  = "thread"
	RuntimeProcess = "process"
	RuntimeCluster = "cluster"
)

// Error kinds recorded on failed tasks so callers can tell the failure
// classes apart without parsing messages.
const (
	ErrorKindNoCapableBackend = "no_capable_backend"
	ErrorKindExecution        = "backend_execution"
	ErrorKindTimeout          = "timeout_exceeded"
	ErrorKindCancelled        = "cancelled"
	ErrorKindNoHealthyWorker  = "no_healthy_worker"
)

// validTransitions maps each status to the set of statuses it may move to.
// A retryable failure moves a dispatched task back to queued.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusDispatched: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusDispatched: {
		StatusQueued:    true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a task in the given status will never change again.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ExecutionResult is the raw outcome of running a circuit on a backend.
type ExecutionResult struct {
	TaskID      string         `json:"task_id"`
	Samples     map[string]int `json:"raw_samples"`
	Shots       int            `json:"shots"`
	WallTimeMS  int64          `json:"wall_time_ms"`
	BackendUsed string         `json:"backend_used"`
	Error       string         `json:"error,omitempty"`
}

// Task is the externally visible record of an execution task.
type Task struct {
	ID           string           `json:"task_id"`
	BatchID      string           `json:"batch_id,omitempty"`
	Status       string           `json:"status"`
	BackendID    string           `json:"backend_id"`
	WorkerID     string           `json:"worker_id,omitempty"`
	Qubits       int              `json:"qubit_count"`
	GateCount    int              `json:"gate_count"`
	CircuitHash  string           `json:"circuit_hash,omitempty"`
	Shots        int              `json:"shot_count"`
	TimeoutMS    int64            `json:"timeout_ms"`
	RetryBudget  int              `json:"retry_budget"`
	Attempts     int              `json:"attempts"`
	Error        string           `json:"error,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	DispatchedAt *time.Time       `json:"dispatched_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// WorkerHandle describes one worker in the executor's pool.
type WorkerHandle struct {
	ID            string    `json:"worker_id"`
	Runtime       string    `json:"runtime_kind"`
	Load          int       `json:"current_load"`
	Healthy       bool      `json:"healthy"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Assigned      int64     `json:"assigned_total"`
}
