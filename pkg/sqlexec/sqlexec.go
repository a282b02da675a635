// Package sqlexec executes bound calls through database/sql.
//
// Two output conventions are supported. ModeByRef passes OUT and INOUT
// slots as sql.Out arguments, which go-mssqldb understands. ModeRow passes
// every slot positionally, OUT slots as NULL, and reads the output values
// from the first row the statement returns, which is how PostgreSQL CALL
// and plain SELECT wrappers report them.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ha1tch/callbind/pkg/call"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Mode selects how output parameters travel.
type Mode int

const (
	ModeByRef Mode = iota
	ModeRow
)

func (m Mode) String() string {
	switch m {
	case ModeByRef:
		return "byref"
	case ModeRow:
		return "row"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "byref" or "row".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "byref", "by-ref", "out":
		return ModeByRef, nil
	case "row", "select":
		return ModeRow, nil
	default:
		return 0, cberrors.Newf(cberrors.ErrCodeConfigInvalid, "unknown output mode %q", s).Err()
	}
}

// Dialects with driver-specific argument handling.
const (
	DialectSQLServer = "sqlserver"
	DialectPostgres  = "postgres"
	DialectMySQL     = "mysql"
	DialectSQLite    = "sqlite"
)

// Config holds database/sql executor configuration.
type Config struct {
	// database/sql driver name and data source
	Driver string
	DSN    string

	Mode Mode

	// Dialect defaults from the driver name
	Dialect string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Applied when Driver is sqlite3
	SQLite SQLiteOptions
}

// SQLiteOptions are appended to a sqlite3 DSN.
type SQLiteOptions struct {
	JournalMode string // WAL, DELETE, TRUNCATE, PERSIST, MEMORY, OFF
	Synchronous string // OFF, NORMAL, FULL, EXTRA
	CacheSize   int    // Number of pages (negative = KB)
	BusyTimeout int    // Milliseconds
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeByRef,
		MaxOpenConns: 10,
		MaxIdleConns: 2,
		SQLite: SQLiteOptions{
			CacheSize:   -2000, // 2MB
			BusyTimeout: 5000,  // 5 seconds
		},
	}
}

// DialectFor maps a driver name to its dialect.
func DialectFor(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlserver", "mssql", "azuresql":
		return DialectSQLServer
	case "pgx", "postgres", "postgresql":
		return DialectPostgres
	case "mysql":
		return DialectMySQL
	case "sqlite3", "sqlite":
		return DialectSQLite
	default:
		return ""
	}
}

// Executor runs calls against a *sql.DB.
type Executor struct {
	db      *sql.DB
	mode    Mode
	dialect string
	name    string
	logger  *log.Logger
	owned   bool
}

// Open opens a database with cfg and returns an executor that owns it.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (*Executor, error) {
	if cfg.Driver == "" {
		return nil, cberrors.New(cberrors.ErrCodeConfigMissing, "no database driver configured").
			WithOp("sqlexec.Open").
			Err()
	}
	dsn := cfg.DSN
	if DialectFor(cfg.Driver) == DialectSQLite {
		dsn = sqliteDSN(dsn, cfg.SQLite)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, cberrors.Wrapf(err, cberrors.ErrCodeConnectionFailed, "failed to open %s database", cfg.Driver).
			WithOp("sqlexec.Open").
			Err()
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, cberrors.Wrapf(err, cberrors.ErrCodeConnectionFailed, "failed to ping %s database", cfg.Driver).
			WithOp("sqlexec.Open").
			Critical().
			Err()
	}

	e := New(db, cfg, logger)
	e.owned = true
	return e, nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *sql.DB, cfg Config, logger *log.Logger) *Executor {
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = DialectFor(cfg.Driver)
	}
	name := dialect
	if name == "" {
		name = cfg.Driver
	}
	if name == "" {
		name = "sql"
	}
	return &Executor{
		db:      db,
		mode:    cfg.Mode,
		dialect: dialect,
		name:    name,
		logger:  logger,
	}
}

// sqliteDSN appends options to a sqlite3 DSN the way go-sqlite3 reads them.
func sqliteDSN(dsn string, o SQLiteOptions) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	opts := []string{}
	if o.CacheSize != 0 {
		opts = append(opts, fmt.Sprintf("_cache_size=%d", o.CacheSize))
	}
	if o.BusyTimeout > 0 {
		opts = append(opts, fmt.Sprintf("_busy_timeout=%d", o.BusyTimeout))
	}
	if o.JournalMode != "" {
		opts = append(opts, fmt.Sprintf("_journal_mode=%s", o.JournalMode))
	}
	if o.Synchronous != "" {
		opts = append(opts, fmt.Sprintf("_synchronous=%s", o.Synchronous))
	}
	if len(opts) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(opts, "&")
}

// Name identifies the backend in logs and metrics.
func (e *Executor) Name() string { return e.name }

// Mode returns the output mode.
func (e *Executor) Mode() Mode { return e.mode }

// DB returns the underlying database.
func (e *Executor) DB() *sql.DB { return e.db }

// Close closes the database if the executor opened it.
func (e *Executor) Close() error {
	if !e.owned {
		return nil
	}
	return e.db.Close()
}

// Statement is statement text with a known placeholder count. It carries
// no parameter descriptions, so binding relies on the caller's types.
type Statement struct {
	text string
	n    int
}

// NumInput returns the number of placeholders.
func (s *Statement) NumInput() int { return s.n }

// Text returns the statement text.
func (s *Statement) Text() string { return s.text }

// Prepare counts the placeholders of text. Many drivers cannot prepare
// CALL on the server, so nothing is sent until Execute.
func (e *Executor) Prepare(ctx context.Context, text string) (call.Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, cberrors.New(cberrors.ErrCodePrepareFailed, "empty statement").
			WithOp("Executor.Prepare").
			Err()
	}
	s := &Statement{text: text, n: call.CountPlaceholders(text)}
	e.logger.Connection().Debug("statement prepared", "backend", e.name, "params", s.n)
	return s, nil
}

// Execute runs c. Output values that do not fit their buffer are cut and
// reported as warnings.
func (e *Executor) Execute(ctx context.Context, c *call.Context) (*call.Outcome, error) {
	if _, ok := c.Statement.(*Statement); !ok {
		return nil, cberrors.InvalidState("Executor.Execute", "statement was not prepared by this executor").Err()
	}
	logger := e.logger.Execute().WithFields("call_id", c.ID, "backend", e.name, "mode", e.mode.String())
	start := time.Now()

	var (
		outcome *call.Outcome
		err     error
	)
	switch e.mode {
	case ModeRow:
		outcome, err = e.executeRow(ctx, c)
	default:
		outcome, err = e.executeByRef(ctx, c)
	}
	if err != nil {
		logger.Error("call failed", err)
		return nil, err
	}
	outcome.Duration = time.Since(start)
	logger.Debug("call executed", "duration", outcome.Duration, "rows", outcome.RowsAffected)
	return outcome, nil
}

func (e *Executor) executeByRef(ctx context.Context, c *call.Context) (*call.Outcome, error) {
	args := make([]interface{}, c.Len())
	dests := make([]outDest, c.Len())
	for i, s := range c.Slots() {
		in, err := inputArg(s, e.dialect)
		if err != nil {
			return nil, err
		}
		if !s.Direction.Returns() {
			args[i] = in
			continue
		}
		d, err := newOutDest(s)
		if err != nil {
			return nil, err
		}
		dests[i] = d
		args[i] = sql.Out{Dest: d.ptr(), In: s.Direction.Sends()}
	}

	res, err := e.db.ExecContext(ctx, c.Statement.Text(), args...)
	if err != nil {
		return nil, mapError("Executor.Execute", err)
	}
	outcome := &call.Outcome{}
	if n, err := res.RowsAffected(); err == nil {
		outcome.RowsAffected = n
	}
	for i, s := range c.Slots() {
		if dests[i] == nil {
			continue
		}
		if err := store(s, dests[i].value(), outcome); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func (e *Executor) executeRow(ctx context.Context, c *call.Context) (*call.Outcome, error) {
	args := make([]interface{}, c.Len())
	for i, s := range c.Slots() {
		in, err := inputArg(s, e.dialect)
		if err != nil {
			return nil, err
		}
		args[i] = in
	}

	rows, err := e.db.QueryContext(ctx, c.Statement.Text(), args...)
	if err != nil {
		return nil, mapError("Executor.Execute", err)
	}
	defer rows.Close()

	outcome := &call.Outcome{}
	outputs := make([]*call.Slot, 0, c.Outputs())
	for _, s := range c.Slots() {
		if s.Direction.Returns() {
			outputs = append(outputs, s)
		}
	}

	if rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, mapError("Executor.Execute", err)
		}
		if len(cols) != len(outputs) {
			return nil, cberrors.Newf(cberrors.ErrCodeDecodeFailed,
				"result row has %d columns for %d output parameters", len(cols), len(outputs)).
				WithOp("Executor.Execute").
				WithField("columns", cols).
				Err()
		}
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapError("Executor.Execute", err)
		}
		for i, s := range outputs {
			if err := store(s, raw[i], outcome); err != nil {
				return nil, err
			}
		}
		outcome.RowsAffected = 1
		for rows.Next() {
			outcome.RowsAffected++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("Executor.Execute", err)
	}
	return outcome, nil
}

func store(s *call.Slot, raw interface{}, outcome *call.Outcome) error {
	v, err := sqltype.FromDriverValue(raw)
	if err != nil {
		return cberrors.Wrapf(err, cberrors.ErrCodeDecodeFailed, "parameter %d", s.Index+1).
			WithOp("Executor.Execute").
			WithField("index", s.Index).
			Err()
	}
	truncated, err := s.Buffer.Store(v)
	if err != nil {
		return cberrors.Wrapf(err, cberrors.GetCode(err), "parameter %d", s.Index+1).
			WithOp("Executor.Execute").
			WithField("index", s.Index).
			Err()
	}
	if truncated {
		outcome.Warnings = append(outcome.Warnings, cberrors.Truncation(s.Index, s.Desc.String(), "execute").Build())
	}
	return nil
}
