// internal/js/sandbox.go
package js

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrBudgetExceeded is returned when a script exhausts its execution budget.
// The sandbox stays usable afterwards.
var ErrBudgetExceeded = errors.New("js: execution budget exceeded")

// DefaultInstructionBudget is the default evaluation allowance.
const DefaultInstructionBudget = 5_000_000

// budgetInterrupt is the value passed to goja's interrupt mechanism so a
// budget stop can be told apart from a cancellation.
const budgetInterrupt = "kalamari:budget"

// ConsoleEntry is one line of the per-sandbox console buffer. Uncaught
// exceptions land here too, under the "error" level.
type ConsoleEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Sandbox is a single-isolate JS evaluator. Execution is synchronous and
// cooperative: nothing preempts a running script except the budget
// interrupt. One sandbox belongs to exactly one page at a time.
type Sandbox struct {
	vm      *goja.Runtime
	logger  *zap.Logger
	sensors *SensorLog
	timers  *TimerQueue

	mu      sync.Mutex
	console []ConsoleEntry

	// budget is the per-Evaluate allowance. The evaluator cannot count
	// instructions, so the budget is charged at one unit per microsecond of
	// execution.
	budget int64
}

// NewSandbox builds a fresh isolate wired to a sensor log and timer queue.
func NewSandbox(logger *zap.Logger, sensors *SensorLog, timers *TimerQueue, budget int64) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget <= 0 {
		budget = DefaultInstructionBudget
	}
	if sensors == nil {
		sensors = NewSensorLog("")
	}
	if timers == nil {
		timers = NewTimerQueue()
	}
	return &Sandbox{
		vm:      goja.New(),
		logger:  logger.Named("sandbox"),
		sensors: sensors,
		timers:  timers,
		budget:  budget,
	}
}

// VM exposes the underlying runtime to the binding installer.
func (s *Sandbox) VM() *goja.Runtime { return s.vm }

// Sensors returns the sensor log hooks record into.
func (s *Sandbox) Sensors() *SensorLog { return s.sensors }

// Timers returns the queue backing setTimeout/setInterval.
func (s *Sandbox) Timers() *TimerQueue { return s.timers }

// SetBudget replaces the per-evaluate allowance.
func (s *Sandbox) SetBudget(budget int64) {
	if budget > 0 {
		s.budget = budget
	}
}

// Evaluate runs code to completion or budget exhaustion. Uncaught JS
// exceptions are recorded to the console buffer and returned as errors; they
// never escape as panics.
func (s *Sandbox) Evaluate(code string) (goja.Value, error) {
	deadline := time.Duration(s.budget) * time.Microsecond
	watchdog := time.AfterFunc(deadline, func() {
		s.vm.Interrupt(budgetInterrupt)
	})
	defer func() {
		watchdog.Stop()
		s.vm.ClearInterrupt()
	}()

	value, err := s.vm.RunString(code)
	if err == nil {
		return value, nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(string); ok && v == budgetInterrupt {
			s.appendConsole("error", "execution budget exceeded")
			return nil, ErrBudgetExceeded
		}
		return nil, fmt.Errorf("js: interrupted: %w", err)
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		s.appendConsole("error", exception.Error())
		return nil, fmt.Errorf("js: uncaught exception: %w", err)
	}
	s.appendConsole("error", err.Error())
	return nil, fmt.Errorf("js: %w", err)
}

// RunTimers executes one batch of flushed timer entries inside the sandbox.
// Errors from individual callbacks are recorded and do not stop the batch.
func (s *Sandbox) RunTimers(batch []Timer) {
	for _, t := range batch {
		if t.Task != nil {
			s.runTask(t.Task)
			continue
		}
		if t.Code != "" {
			if _, err := s.Evaluate(t.Code); err != nil {
				s.logger.Debug("timer body failed", zap.Uint32("id", t.ID), zap.Error(err))
			}
		}
	}
}

func (s *Sandbox) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.appendConsole("error", fmt.Sprint(r))
		}
	}()
	task()
}

// Console returns a copy of the console buffer.
func (s *Sandbox) Console() []ConsoleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConsoleEntry, len(s.console))
	copy(out, s.console)
	return out
}

// ClearConsole empties the buffer for page reuse.
func (s *Sandbox) ClearConsole() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = nil
}

func (s *Sandbox) appendConsole(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = append(s.console, ConsoleEntry{Level: level, Message: message})
}
