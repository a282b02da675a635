// Package stmt is the caller-facing surface: a Conn over a backend and
// Statements that prepare, bind, execute and decode procedure calls.
//
// A Statement follows Prepare, BindParameters, Execute, Close. Execute
// consumes the binding, so each call needs its own BindParameters. A
// Statement is not meant for concurrent use; the state checks only turn
// misuse into errors.
package stmt

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ha1tch/callbind/pkg/binder"
	"github.com/ha1tch/callbind/pkg/call"
	"github.com/ha1tch/callbind/pkg/decoder"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/metrics"
	"github.com/ha1tch/callbind/pkg/param"
)

// Backend prepares and executes calls. pkg/engine and pkg/sqlexec
// implement it.
type Backend interface {
	call.Preparer
	call.Executor
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger shared by the Conn, its binder and its
// statements.
func WithLogger(l *log.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithMetrics records call metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithBinderConfig overrides the binder defaults.
func WithBinderConfig(cfg binder.Config) Option {
	return func(c *Conn) { c.binderConfig = cfg }
}

// Conn is a connection to one backend.
type Conn struct {
	backend      Backend
	name         string
	logger       *log.Logger
	metrics      *metrics.Metrics
	binderConfig binder.Config
	binder       *binder.Binder

	mu     sync.RWMutex
	closed bool
}

// NewConn wraps backend.
func NewConn(backend Backend, opts ...Option) *Conn {
	c := &Conn{
		backend:      backend,
		name:         backendName(backend),
		binderConfig: binder.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(log.DefaultConfig())
	}
	c.binder = binder.New(c.binderConfig, c.logger)
	c.logger.Connection().Debug("connection opened", "backend", c.name)
	return c
}

func backendName(b Backend) string {
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", b)
}

// Backend returns the wrapped backend.
func (c *Conn) Backend() Backend { return c.backend }

// Logger returns the connection's logger.
func (c *Conn) Logger() *log.Logger { return c.logger }

// Debug switches every log category to debug level, or back to info.
func (c *Conn) Debug(on bool) {
	if on {
		c.logger.SetAllLevels(log.LevelDebug)
		return
	}
	c.logger.SetAllLevels(log.LevelInfo)
}

// Close closes the connection and, if it is an io.Closer, the backend.
// Statements of a closed Conn fail with ErrCodeConnectionClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Connection().Debug("connection closed", "backend", c.name)
	if cl, ok := c.backend.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *Conn) checkOpen(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return cberrors.New(cberrors.ErrCodeConnectionClosed, "connection is closed").WithOp(op).Err()
	}
	return nil
}

// NewStatement returns an unprepared statement.
func (c *Conn) NewStatement() *Statement {
	return &Statement{conn: c}
}

// AsyncResult is delivered by ExecuteAsync.
type AsyncResult struct {
	Result decoder.Result
	Err    error
}

// Statement is one prepared call and its current binding.
type Statement struct {
	conn *Conn

	mu       sync.Mutex
	prepared call.Prepared
	bound    *call.Context
	closed   bool
}

// Prepare prepares text on the backend. Preparing again replaces the
// previous statement and drops its binding.
func (s *Statement) Prepare(ctx context.Context, text string) error {
	if err := s.usable("Statement.Prepare"); err != nil {
		return err
	}
	p, err := s.conn.backend.Prepare(ctx, text)
	if err != nil {
		s.conn.logger.Connection().Error("prepare failed", err, "backend", s.conn.name)
		if _, ok := cberrors.GetEngineError(err); ok || cberrors.GetCode(err) != cberrors.ErrCodeInternal {
			return err
		}
		return cberrors.Wrap(err, cberrors.ErrCodePrepareFailed, "prepare failed").WithOp("Statement.Prepare").Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropBinding()
	s.prepared = p
	return nil
}

// NumInput returns the placeholder count, or -1 before Prepare.
func (s *Statement) NumInput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared == nil {
		return -1
	}
	return s.prepared.NumInput()
}

// BindParameters binds list for the next Execute, replacing any unused
// binding.
func (s *Statement) BindParameters(list param.List) error {
	if err := s.usable("Statement.BindParameters"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared == nil {
		return cberrors.New(cberrors.ErrCodeNotPrepared, "statement is not prepared").
			WithOp("Statement.BindParameters").
			Err()
	}
	c, err := s.conn.binder.Bind(s.prepared, list)
	if err != nil {
		s.conn.metrics.BindError(int(cberrors.GetCode(err)))
		return err
	}
	s.dropBinding()
	s.bound = c
	return nil
}

// BindValues binds bare values, each as an INOUT parameter whose type
// comes from the statement description or the value itself.
func (s *Statement) BindValues(values ...interface{}) error {
	list := make(param.List, len(values))
	for i, v := range values {
		list[i] = param.Spec{Value: v, Direction: param.InOut}
	}
	return s.BindParameters(list)
}

// Execute runs the bound call and decodes its outputs: one value per OUT
// or INOUT parameter in statement order.
func (s *Statement) Execute(ctx context.Context) (decoder.Result, error) {
	if err := s.usable("Statement.Execute"); err != nil {
		return decoder.Result{}, err
	}
	s.mu.Lock()
	if s.prepared == nil {
		s.mu.Unlock()
		return decoder.Result{}, cberrors.New(cberrors.ErrCodeNotPrepared, "statement is not prepared").
			WithOp("Statement.Execute").
			Err()
	}
	c := s.bound
	s.bound = nil
	s.mu.Unlock()
	if c == nil {
		return decoder.Result{}, cberrors.New(cberrors.ErrCodeNotBound, "no parameters bound since the last execute").
			WithOp("Statement.Execute").
			Err()
	}

	logger := s.conn.logger.Execute().WithFields("call_id", c.ID, "backend", s.conn.name)
	logger.Debug("executing", "statement", c.Statement.Text(), "params", c.Len())

	start := time.Now()
	out, err := call.Run(ctx, s.conn.backend, c)
	elapsed := time.Since(start)
	s.conn.metrics.ObserveCall(s.conn.name, elapsed, err)
	if err != nil {
		c.Release()
		logger.Error("call failed", err)
		return decoder.Result{}, err
	}

	r, err := decoder.Decode(c, out)
	if err != nil {
		s.conn.logger.Decode().Error("decode failed", err, "call_id", c.ID)
		return decoder.Result{}, err
	}
	s.conn.metrics.Truncated(len(r.Warnings()))
	for _, w := range r.Warnings() {
		logger.Warn(w.Message, "index", w.Fields["index"])
	}
	s.conn.logger.Performance().Debug("call completed",
		"call_id", c.ID,
		"duration_ms", float64(elapsed.Microseconds())/1000,
		"outputs", r.Len())
	return r, nil
}

// ExecuteAsync runs Execute in a goroutine. The channel delivers exactly
// one result and is then closed.
func (s *Statement) ExecuteAsync(ctx context.Context) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		defer close(ch)
		r, err := s.Execute(ctx)
		ch <- AsyncResult{Result: r, Err: err}
	}()
	return ch
}

// Close releases the statement and any unused binding.
func (s *Statement) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cberrors.InvalidState("Statement.Close", "statement already closed").Err()
	}
	s.dropBinding()
	s.prepared = nil
	s.closed = true
	return nil
}

func (s *Statement) dropBinding() {
	if s.bound != nil {
		s.bound.Release()
		s.bound = nil
	}
}

func (s *Statement) usable(op string) error {
	if err := s.conn.checkOpen(op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cberrors.InvalidState(op, "statement is closed").Err()
	}
	return nil
}
