package sqlexec

import (
	"database/sql"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/callbind/pkg/call"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// inputArg returns the driver argument for the value a slot sends, or nil
// for slots that send nothing.
func inputArg(s *call.Slot, dialect string) (interface{}, error) {
	if !s.Direction.Sends() {
		return nil, nil
	}
	v, err := s.Buffer.Load()
	if err != nil {
		return nil, cberrors.Wrapf(err, cberrors.ErrCodeInternal, "parameter %d unreadable", s.Index+1).
			WithOp("Executor.Execute").
			Err()
	}
	switch v.Kind() {
	case sqltype.KindString:
		str, _ := v.AsString()
		if dialect == DialectSQLServer {
			// CHAR and VARCHAR are single-byte on SQL Server; the default
			// string mapping is NVARCHAR.
			return mssql.VarChar(str), nil
		}
		return str, nil
	case sqltype.KindInt:
		n, _ := v.AsInt()
		return n, nil
	case sqltype.KindDecimal:
		d, _ := v.AsDecimal()
		return d, nil
	default:
		return nil, nil
	}
}

// outDest receives an OUT or INOUT value through sql.Out.
type outDest interface {
	ptr() interface{}
	value() interface{}
}

type stringDest struct{ v sql.NullString }

func (d *stringDest) ptr() interface{} { return &d.v }

func (d *stringDest) value() interface{} {
	if !d.v.Valid {
		return nil
	}
	return d.v.String
}

type intDest struct{ v sql.NullInt64 }

func (d *intDest) ptr() interface{} { return &d.v }

func (d *intDest) value() interface{} {
	if !d.v.Valid {
		return nil
	}
	return d.v.Int64
}

type decimalDest struct{ v decimal.NullDecimal }

func (d *decimalDest) ptr() interface{} { return &d.v }

func (d *decimalDest) value() interface{} {
	if !d.v.Valid {
		return nil
	}
	return d.v.Decimal
}

// newOutDest allocates a destination matching the slot's family. INOUT
// destinations start with the bound value.
func newOutDest(s *call.Slot) (outDest, error) {
	var in sqltype.Value
	if s.Direction.Sends() {
		v, err := s.Buffer.Load()
		if err != nil {
			return nil, cberrors.Wrapf(err, cberrors.ErrCodeInternal, "parameter %d unreadable", s.Index+1).
				WithOp("Executor.Execute").
				Err()
		}
		in = v
	}

	switch s.Desc.Family() {
	case sqltype.FamilyString:
		d := &stringDest{}
		d.v.String, d.v.Valid = in.AsString()
		return d, nil
	case sqltype.FamilyInteger:
		d := &intDest{}
		d.v.Int64, d.v.Valid = in.AsInt()
		return d, nil
	case sqltype.FamilyDecimal:
		d := &decimalDest{}
		d.v.Decimal, d.v.Valid = in.AsDecimal()
		return d, nil
	default:
		return nil, cberrors.Unsupported(s.Index, s.Desc.String()).WithOp("Executor.Execute").Err()
	}
}
