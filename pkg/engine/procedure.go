package engine

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Body is the code of a procedure. It reads and assigns parameters
// through the Frame.
type Body func(f *Frame) error

// Procedure is a stored procedure known to the engine.
type Procedure struct {
	// Identity
	Schema string
	Name   string

	// Signature, in call order
	Params []ParamDecl

	Body Body

	// Timestamps
	CreatedAt time.Time

	// Execution state
	execCount   int64
	totalTimeNs int64
	lastExecAt  atomic.Value // time.Time
}

// ParamDecl declares one procedure parameter.
type ParamDecl struct {
	Name string
	Mode param.Direction
	Type sqltype.Descriptor
}

// QualifiedName returns SCHEMA.NAME.
func (p *Procedure) QualifiedName() string {
	if p.Schema == "" {
		return p.Name
	}
	return p.Schema + "." + p.Name
}

// Signature renders the declaration, e.g. "S.P(IN A CHAR(1), OUT B INTEGER)".
func (p *Procedure) Signature() string {
	var b strings.Builder
	b.WriteString(p.QualifiedName())
	b.WriteString("(")
	for i, d := range p.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Mode.String())
		b.WriteString(" ")
		b.WriteString(d.Name)
		b.WriteString(" ")
		b.WriteString(d.Type.String())
	}
	b.WriteString(")")
	return b.String()
}

// ExecCount returns the number of completed executions.
func (p *Procedure) ExecCount() int64 { return atomic.LoadInt64(&p.execCount) }

// LastExecAt returns the time of the last execution, or the zero time.
func (p *Procedure) LastExecAt() time.Time {
	t, _ := p.lastExecAt.Load().(time.Time)
	return t
}

// AvgExecTimeMs returns the average execution time in milliseconds.
func (p *Procedure) AvgExecTimeMs() float64 {
	n := atomic.LoadInt64(&p.execCount)
	if n == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&p.totalTimeNs)) / float64(n) / 1_000_000
}

func (p *Procedure) record(elapsed time.Duration) {
	atomic.AddInt64(&p.totalTimeNs, elapsed.Nanoseconds())
	atomic.AddInt64(&p.execCount, 1)
	p.lastExecAt.Store(time.Now())
}

func (p *Procedure) param(name string) int {
	for i, d := range p.Params {
		if strings.EqualFold(d.Name, name) {
			return i
		}
	}
	return -1
}
