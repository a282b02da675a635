// Package engine is an in-process stored-procedure engine. Procedures are
// Go functions with a declared signature; the engine prepares CALL
// statements against them and executes bound calls, enforcing the
// declared types and parameter modes the way a database server does.
//
// Engine implements call.Preparer and call.Executor, so it can stand in
// for a real database behind the stmt package.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ha1tch/callbind/pkg/call"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/param"
)

// Engine prepares and executes procedure calls.
type Engine struct {
	config Config
	logger *log.Logger

	registry *Registry
	joblog   *JobLog

	// Execution tracking
	activeExecs   int64 // Atomic counter
	totalExecs    int64 // Atomic counter
	failedExecs   int64 // Atomic counter
	totalTimeNs   int64 // Atomic counter
	execSemaphore chan struct{}
}

// Config holds engine configuration.
type Config struct {
	// Schema for unqualified procedure names
	DefaultSchema string

	// Concurrency
	MaxConcurrency int

	// Execution limits
	ExecTimeout time.Duration

	// Messages retained in the job log
	JobLogSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultSchema:  "CALLBIND",
		MaxConcurrency: 100,
		ExecTimeout:    30 * time.Second,
		JobLogSize:     1000,
	}
}

// New creates an engine with an empty registry.
func New(cfg Config, logger *log.Logger) *Engine {
	def := DefaultConfig()
	if cfg.DefaultSchema == "" {
		cfg.DefaultSchema = def.DefaultSchema
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.JobLogSize <= 0 {
		cfg.JobLogSize = def.JobLogSize
	}
	return &Engine{
		config:        cfg,
		logger:        logger,
		registry:      NewRegistry(cfg.DefaultSchema),
		joblog:        NewJobLog(cfg.JobLogSize),
		execSemaphore: make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Name identifies the backend in logs and metrics.
func (e *Engine) Name() string { return "engine" }

// Registry returns the procedure registry.
func (e *Engine) Registry() *Registry { return e.registry }

// JobLog returns the engine's message log.
func (e *Engine) JobLog() *JobLog { return e.joblog }

// Prepare resolves a CALL statement against the registry.
func (e *Engine) Prepare(ctx context.Context, text string) (call.Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, markers, err := parseCall(text)
	if err != nil {
		return nil, err
	}
	proc, err := e.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if markers != len(proc.Params) {
		return nil, engineError("Engine.Prepare", sqlArity, stateArity,
			"%s in %s with %d arguments not found", proc.Name, proc.Schema, markers)
	}

	e.logger.Connection().Debug("statement prepared",
		"procedure", proc.QualifiedName(),
		"params", len(proc.Params))

	return &Statement{engine: e, text: text, name: name, proc: proc}, nil
}

// Execute runs a bound call.
//
// Declared OUT parameters start NULL inside the procedure whatever the
// caller bound. IN and INOUT values are converted to the declared type; a
// value cut to fit is logged as SQL0445. After the body returns, a
// parameter is written back only when it is declared OUT or INOUT, the
// caller bound it OUT or INOUT, and it is INOUT or was assigned. Other
// buffers are left as bound. A failed body writes nothing back.
func (e *Engine) Execute(ctx context.Context, c *call.Context) (*call.Outcome, error) {
	stmt, ok := c.Statement.(*Statement)
	if !ok || stmt.engine != e {
		return nil, cberrors.InvalidState("Engine.Execute", "statement was not prepared by this engine").Err()
	}
	proc, err := e.registry.Lookup(stmt.name)
	if err != nil {
		return nil, err
	}
	if len(proc.Params) != c.Len() {
		return nil, engineError("Engine.Execute", sqlArity, stateArity,
			"%s in %s with %d arguments not found", proc.Name, proc.Schema, c.Len())
	}

	// Acquire semaphore for concurrency limiting
	select {
	case e.execSemaphore <- struct{}{}:
		defer func() { <-e.execSemaphore }()
	case <-ctx.Done():
		return nil, interrupted(ctx.Err())
	}

	atomic.AddInt64(&e.activeExecs, 1)
	defer atomic.AddInt64(&e.activeExecs, -1)
	atomic.AddInt64(&e.totalExecs, 1)

	startTime := time.Now()
	defer func() {
		elapsed := time.Since(startTime)
		atomic.AddInt64(&e.totalTimeNs, elapsed.Nanoseconds())
		proc.record(elapsed)
	}()

	// Apply timeout
	if e.config.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ExecTimeout)
		defer cancel()
	}

	logger := e.logger.Execute().WithFields("call_id", c.ID, "procedure", proc.QualifiedName())
	firstSeq := e.joblog.Seq()
	frame := newFrame(ctx, proc, e.joblog)

	for i, decl := range proc.Params {
		if decl.Mode == param.Out {
			continue
		}
		v, err := c.Slot(i).Buffer.Load()
		if err != nil {
			return nil, e.fail(cberrors.Wrapf(err, cberrors.ErrCodeInternal, "parameter %d unreadable", i+1).Err())
		}
		cv, truncated, err := decl.Type.Coerce(v)
		if err != nil {
			return nil, e.fail(engineError("Engine.Execute", sqlIncompatible, stateIncompatible,
				"value for parameter %d (%s) not compatible with %s", i+1, decl.Name, decl.Type))
		}
		if truncated {
			e.joblog.Add(MsgTruncated, proc.QualifiedName(),
				fmt.Sprintf("Value for parameter %d (%s) truncated to %s", i+1, decl.Name, decl.Type))
			logger.Warn("input value truncated", "param", decl.Name, "type", decl.Type.String())
		}
		frame.vars[i] = cv
	}

	err = runBody(proc, frame)
	if err == nil && frame.err != nil {
		err = frame.err
	}
	if err == nil && ctx.Err() != nil {
		err = interrupted(ctx.Err())
	}
	if err != nil {
		logger.Error("procedure failed", err)
		return nil, e.fail(err)
	}

	outcome := &call.Outcome{}
	for i, decl := range proc.Params {
		slot := c.Slot(i)
		if !decl.Mode.Returns() || !slot.Direction.Returns() {
			continue
		}
		if decl.Mode == param.Out && !frame.assigned[i] {
			continue
		}
		truncated, err := slot.Buffer.Store(frame.vars[i])
		if err != nil {
			return nil, e.fail(engineError("Engine.Execute", sqlIncompatible, stateIncompatible,
				"value of %s cannot be assigned to parameter %d (%s)", decl.Name, i+1, slot.Desc))
		}
		if truncated {
			outcome.Warnings = append(outcome.Warnings, cberrors.Truncation(i, slot.Desc.String(), "execute").Build())
			logger.Warn("output value truncated", "param", decl.Name, "type", slot.Desc.String())
		}
	}

	for _, m := range e.joblog.Since(firstSeq) {
		outcome.Messages = append(outcome.Messages, m.String())
	}
	outcome.Duration = time.Since(startTime)

	logger.Debug("procedure executed", "duration", outcome.Duration)
	return outcome, nil
}

func (e *Engine) fail(err error) error {
	atomic.AddInt64(&e.failedExecs, 1)
	return err
}

func runBody(proc *Procedure, f *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = engineError("Engine.Execute", sqlRoutineFailed, stateRoutineFailed,
				"routine %s failed: %v", proc.QualifiedName(), r)
		}
	}()
	err = proc.Body(f)
	if err != nil {
		if _, ok := cberrors.GetEngineError(err); !ok && !cberrors.IsCategory(err, "execution") {
			err = cberrors.Engine("Engine.Execute", &cberrors.EngineError{
				NativeCode: sqlRoutineFailed,
				SQLState:   stateRoutineFailed,
				Message:    fmt.Sprintf("routine %s failed: %v", proc.QualifiedName(), err),
				Cause:      err,
			}).Err()
		}
	}
	return err
}

func interrupted(err error) error {
	code := cberrors.ErrCodeCallCancelled
	if err == context.DeadlineExceeded {
		code = cberrors.ErrCodeCallTimeout
	}
	return cberrors.Wrap(err, code, "procedure call interrupted").WithOp("Engine.Execute").Err()
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		ActiveExecutions: atomic.LoadInt64(&e.activeExecs),
		TotalExecutions:  atomic.LoadInt64(&e.totalExecs),
		FailedExecutions: atomic.LoadInt64(&e.failedExecs),
		TotalTimeNs:      atomic.LoadInt64(&e.totalTimeNs),
		Procedures:       e.registry.Count(),
	}
}

// Stats holds engine statistics.
type Stats struct {
	ActiveExecutions int64
	TotalExecutions  int64
	FailedExecutions int64
	TotalTimeNs      int64
	Procedures       int
}

// AvgExecTimeMs returns the average execution time in milliseconds.
func (s Stats) AvgExecTimeMs() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.TotalTimeNs) / float64(s.TotalExecutions) / 1_000_000
}
