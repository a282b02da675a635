package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/ha1tch/callbind/pkg/config"
	"github.com/ha1tch/callbind/pkg/decoder"
	"github.com/ha1tch/callbind/pkg/engine"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/metrics"
	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqlexec"
	"github.com/ha1tch/callbind/pkg/sqltype"
	"github.com/ha1tch/callbind/pkg/stmt"
	"github.com/ha1tch/callbind/pkg/version"

	// database/sql drivers (register via init())
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// paramFlags collects repeated -p values.
type paramFlags []string

func (p *paramFlags) String() string { return strings.Join(*p, ",") }

func (p *paramFlags) Set(s string) error {
	*p = append(*p, s)
	return nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("callbind", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var params paramFlags
	fs.Var(&params, "p", "Parameter DIR[:TYPE][=VALUE] (repeatable)")
	fs.Var(&params, "param", "Parameter DIR[:TYPE][=VALUE] (repeatable)")

	var (
		configFile  = fs.String("c", "", "Configuration file path")
		configFileL = fs.String("config", "", "Configuration file path")

		// Backend
		driver  = fs.String("driver", "", "database/sql driver: sqlserver, pgx, postgres, mysql, sqlite3")
		dsn     = fs.String("dsn", "", "Data source name")
		mode    = fs.String("mode", "", "Output mode: byref, row")
		dialect = fs.String("dialect", "", "SQL dialect (default from driver)")
		demo    = fs.Bool("demo", false, "Call the built-in sample procedures in-process")
		list    = fs.Bool("list", false, "List the built-in sample procedures and exit")

		// Call
		sqlText = fs.String("sql", "", "Statement to prepare, or - to read it from stdin")

		// Output
		format      = fs.String("format", "text", "Output format: text, json")
		showMetrics = fs.Bool("metrics", false, "Print call metrics to stderr")

		// Logging
		logLevel  = fs.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat = fs.String("log-format", "", "Log format (text, json)")

		// Help and version
		showHelp     = fs.Bool("h", false, "Show help")
		showHelpL    = fs.Bool("help", false, "Show help")
		showVersion  = fs.Bool("v", false, "Show version")
		showVersionL = fs.Bool("version", false, "Show version")
	)

	fs.Usage = func() {
		printUsage(stderr)
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Coalesce short and long flags
	if *configFileL != "" {
		*configFile = *configFileL
	}
	if *showHelpL {
		*showHelp = true
	}
	if *showVersionL {
		*showVersion = true
	}

	if *showHelp {
		printUsage(stdout)
		return 0
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	if *format != "text" && *format != "json" {
		fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return 2
	}

	// Load config: YAML -> env -> CLI (increasing precedence)
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(stderr, "error loading config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	applyCLI(&cfg, *driver, *dsn, *mode, *dialect, *logLevel, *logFormat)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 2
	}

	lc, err := cfg.LogConfig(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 2
	}
	logger := log.New(lc)
	defer logger.Close()

	if *list {
		reg := engine.NewRegistry(cfg.Engine.DefaultSchema)
		if err := engine.LoadSamples(reg); err != nil {
			fmt.Fprintf(stderr, "error loading samples: %v\n", err)
			return 1
		}
		for _, p := range reg.List() {
			fmt.Fprintln(stdout, p.Signature())
		}
		return 0
	}

	text := *sqlText
	if text == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "error reading statement: %v\n", err)
			return 1
		}
		text = strings.TrimSpace(string(b))
	}
	if text == "" {
		fmt.Fprintln(stderr, "no statement given (use --sql)")
		return 2
	}

	specs, err := param.ParseList(params)
	if err != nil {
		fmt.Fprintf(stderr, "invalid parameter: %v\n", err)
		return 2
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var backend stmt.Backend
	var eng *engine.Engine
	if *demo {
		eng = engine.New(cfg.EngineConfig(), logger)
		if err := engine.LoadSamples(eng.Registry()); err != nil {
			fmt.Fprintf(stderr, "error loading samples: %v\n", err)
			return 1
		}
		backend = eng
	} else {
		if cfg.Driver == "" {
			fmt.Fprintln(stderr, "no driver configured (use --driver, CALLBIND_DRIVER or --demo)")
			return 2
		}
		sqCfg, err := cfg.SQLExec()
		if err != nil {
			fmt.Fprintf(stderr, "config error: %v\n", err)
			return 2
		}
		exec, err := sqlexec.Open(ctx, sqCfg, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		backend = exec
	}

	reg := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		fmt.Fprintf(stderr, "error registering metrics: %v\n", err)
		return 1
	}

	conn := stmt.NewConn(backend,
		stmt.WithLogger(logger),
		stmt.WithMetrics(m),
		stmt.WithBinderConfig(cfg.BinderConfig()))
	defer conn.Close()

	s := conn.NewStatement()
	defer s.Close()

	code := 0
	r, err := callOnce(ctx, s, text, specs)
	if err != nil {
		printError(stderr, err)
		code = 1
	} else if err := printResult(stdout, stderr, *format, r); err != nil {
		fmt.Fprintf(stderr, "error writing result: %v\n", err)
		code = 1
	}

	if *showMetrics {
		writeMetrics(stderr, reg)
	}
	return code
}

func callOnce(ctx context.Context, s *stmt.Statement, text string, specs param.List) (decoder.Result, error) {
	if err := s.Prepare(ctx, text); err != nil {
		return decoder.Result{}, err
	}
	if err := s.BindParameters(specs); err != nil {
		return decoder.Result{}, err
	}
	return s.Execute(ctx)
}

func applyCLI(cfg *config.Config, driver, dsn, mode, dialect, logLevel, logFormat string) {
	if driver != "" {
		cfg.Driver = driver
	}
	if dsn != "" {
		cfg.DSN = dsn
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if dialect != "" {
		cfg.Dialect = dialect
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

type jsonResult struct {
	Values   []sqltype.Value `json:"values"`
	Params   []int           `json:"params"`
	Warnings []string        `json:"warnings,omitempty"`
	Messages []string        `json:"messages,omitempty"`
}

// printResult writes values to w. In text mode warnings and engine
// messages go to diag.
func printResult(w, diag io.Writer, format string, r decoder.Result) error {
	var messages []string
	if out := r.Outcome(); out != nil {
		messages = out.Messages
	}

	if format == "json" {
		jr := jsonResult{Values: r.Values(), Messages: messages}
		if jr.Values == nil {
			jr.Values = []sqltype.Value{}
		}
		for i := 0; i < r.Len(); i++ {
			jr.Params = append(jr.Params, r.SlotIndex(i)+1)
		}
		for _, warn := range r.Warnings() {
			jr.Warnings = append(jr.Warnings, warn.Error())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jr)
	}

	for i, v := range r.Values() {
		if _, err := fmt.Fprintf(w, "%d\t%s\n", r.SlotIndex(i)+1, v); err != nil {
			return err
		}
	}
	for _, warn := range r.Warnings() {
		fmt.Fprintf(diag, "warning: %v\n", warn)
	}
	for _, msg := range messages {
		fmt.Fprintf(diag, "message: %s\n", msg)
	}
	return nil
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	if sev := cberrors.GetSeverity(err); sev != cberrors.SeverityError {
		fmt.Fprintf(w, "  severity:    %s\n", sev)
	}
	if ee, ok := cberrors.GetEngineError(err); ok {
		fmt.Fprintf(w, "  native code: %d\n", ee.NativeCode)
		if ee.SQLState != "" {
			fmt.Fprintf(w, "  sqlstate:    %s\n", ee.SQLState)
		}
	}
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) {
	mfs, err := g.Gather()
	if err != nil {
		fmt.Fprintf(w, "error gathering metrics: %v\n", err)
		return
	}
	for _, mf := range mfs {
		expfmt.MetricFamilyToText(w, mf)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `callbind - call a stored procedure with IN, OUT and INOUT parameters

Usage:
  callbind [options] --sql <statement> [-p DIR[:TYPE][=VALUE] ...]

Backend Options:
  -c, --config <file>      Configuration file path (YAML)
  --driver <name>          database/sql driver: sqlserver, pgx, postgres, mysql, sqlite3
  --dsn <dsn>              Data source name
  --mode <mode>            Output mode: byref (sql.Out), row (first result row)
  --dialect <name>         SQL dialect: sqlserver, postgres, mysql, sqlite
  --demo                   Use the in-process engine with the sample procedures
  --list                   List the sample procedures and exit

Call Options:
  --sql <statement>        Statement to prepare; - reads it from stdin
  -p, --param <spec>       Parameter, in placeholder order (repeatable)
                           DIR is in, out or inout; TYPE is CHAR(n), VARCHAR(n),
                           SMALLINT, INTEGER, BIGINT or DECIMAL(p,s);
                           VALUE null means NULL, quotes keep blanks

Output:
  --format <format>        Output format: text, json (default: text)
  --metrics                Print call metrics to stderr

Logging:
  --log-level <level>      Log level: debug, info, warn, error (default: info)
  --log-format <format>    Log format: text, json (default: text)

General:
  -h, --help               Show help
  -v, --version            Show version

Environment:
  CALLBIND_DRIVER, CALLBIND_DSN, CALLBIND_MODE, CALLBIND_DIALECT,
  CALLBIND_LOG_LEVEL, CALLBIND_LOG_FORMAT, CALLBIND_TIMEOUT

Examples:
  # Uppercase a CHAR(1) INOUT parameter in-process
  callbind --demo --sql "CALL SP_TEST_CHAR1(?,?,?,?,?,?,?,?,?)" \
    -p in=a -p inout=b -p out -p out -p out -p out -p out -p out -p out

  # SQL Server procedure with an OUTPUT parameter
  callbind --driver sqlserver --dsn "sqlserver://sa:pw@localhost?database=app" \
    --sql "EXEC dbo.GetName @p1, @p2 OUTPUT" -p in:INTEGER=7 -p out:VARCHAR(40)

  # PostgreSQL procedure returning INOUT values as a row
  callbind --driver pgx --dsn postgres://localhost/app --mode row \
    --sql "CALL get_name(\$1, \$2)" -p in:INTEGER=7 -p inout:VARCHAR(40)=null

Exit Codes:
  0  Success
  1  Runtime error
  2  CLI usage error
`)
}
