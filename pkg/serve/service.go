// Package serve exposes the engine to collaborators: start an execution and
// get its id immediately, poll the ordered log stream, abort at the next step
// boundary, and read the write-once result.
package serve

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ormasoftchile/radproof/pkg/capability"
	"github.com/ormasoftchile/radproof/pkg/runtime"
	"github.com/ormasoftchile/radproof/pkg/schema"
	"github.com/ormasoftchile/radproof/pkg/store"
)

// SessionFactory builds the capability handles for one execution. Injected
// so tests (and protocol collaborators) can supply their own transports.
type SessionFactory func(target *schema.Target) runtime.Sessions

// DefaultSessions wires the shipped implementations: SSH shell when the
// target has a jump host, a database/sql session for sql targets, and an
// HTTP caller. Packet transports are protocol-specific and must be supplied
// by the collaborator through a custom factory.
func DefaultSessions(target *schema.Target) runtime.Sessions {
	s := runtime.Sessions{HTTP: capability.NewHTTPCaller(nil)}
	if target.Jump != nil {
		var opts []capability.SSHOption
		if target.Jump.KeyPath != "" {
			opts = append(opts, capability.WithKeyPath(target.Jump.KeyPath))
		}
		s.Shell = capability.NewSSHShell(opts...)
	}
	if target.Kind == "sql" {
		s.SQL = capability.NewDBSession()
	}
	return s
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs executions asynchronously against a store. One in-flight
// orchestrator per execution id owns all sessions for that run.
type Service struct {
	store        *store.Store
	newSessions  SessionFactory
	artifactsDir string

	mu      sync.Mutex
	running map[string]*run
}

// New creates a service. A nil factory uses DefaultSessions.
func New(st *store.Store, factory SessionFactory) *Service {
	if factory == nil {
		factory = DefaultSessions
	}
	return &Service{
		store:       st,
		newSessions: factory,
		running:     make(map[string]*run),
	}
}

// SetArtifactsDir enables per-run JSONL trace files under dir.
func (s *Service) SetArtifactsDir(dir string) {
	s.artifactsDir = dir
}

// Start validates the stored scenario and target, creates the execution
// record, and returns the execution id immediately; the run proceeds on its
// own goroutine. Validation failures reject the start — a malformed scenario
// is never discovered mid-run.
func (s *Service) Start(scenarioID, targetID string) (string, error) {
	scenarioDoc, err := s.store.GetScenario(scenarioID)
	if err != nil {
		return "", err
	}
	targetDoc, err := s.store.GetTarget(targetID)
	if err != nil {
		return "", err
	}

	sc, err := schema.Load(strings.NewReader(scenarioDoc))
	if err != nil {
		return "", fmt.Errorf("scenario %q: %w", scenarioID, err)
	}
	if errs := schema.ValidateDomain(sc); len(errs) > 0 {
		return "", fmt.Errorf("scenario %q invalid: %w", scenarioID, errs[0])
	}

	target, err := schema.LoadTarget(strings.NewReader(targetDoc))
	if err != nil {
		return "", fmt.Errorf("target %q: %w", targetID, err)
	}

	orch := runtime.NewOrchestrator(sc, target, s.newSessions(target), s.store)
	execID := orch.ExecutionID()
	if s.artifactsDir != "" {
		orch.BaseDir = filepath.Join(s.artifactsDir, execID)
	}

	if err := s.store.CreateExecution(orch.Record); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.running[execID] = r
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()

		result, runErr := orch.Run(ctx)
		if runErr != nil {
			fmt.Printf("execution %s internal error: %v\n", execID, runErr)
		}
		if result != nil {
			if err := s.store.SaveResult(execID, result); err != nil {
				fmt.Printf("execution %s: save result: %v\n", execID, err)
			}
		}
		if err := s.store.FinishExecution(orch.Record); err != nil {
			fmt.Printf("execution %s: finish record: %v\n", execID, err)
		}

		s.mu.Lock()
		delete(s.running, execID)
		s.mu.Unlock()
	}()

	return execID, nil
}

// Abort signals cancellation for a running execution. The engine observes it
// at the next step boundary and still flushes session teardown. Aborting an
// execution that already finished is a no-op.
func (s *Service) Abort(executionID string) {
	s.mu.Lock()
	r, ok := s.running[executionID]
	s.mu.Unlock()
	if ok {
		r.cancel()
	}
}

// Wait blocks until the execution's goroutine has finished and its record
// and result are persisted.
func (s *Service) Wait(executionID string) {
	s.mu.Lock()
	r, ok := s.running[executionID]
	s.mu.Unlock()
	if ok {
		<-r.done
	}
}

// Logs returns the ordered log stream for an execution, after the given
// sequence number (0 for the full stream).
func (s *Service) Logs(executionID string, afterSeq int64) ([]runtime.LogEntry, error) {
	return s.store.Logs(executionID, afterSeq)
}

// Execution returns the execution record.
func (s *Service) Execution(executionID string) (*runtime.ExecutionRecord, error) {
	return s.store.GetExecution(executionID)
}

// Result returns the test result linked to an execution.
func (s *Service) Result(executionID string) (*runtime.TestResult, error) {
	return s.store.ResultForExecution(executionID)
}
