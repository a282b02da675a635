package sqlexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
)

// nativeError extracts the engine's own code and message from a driver
// error. ok is false for errors no supported driver recognises.
func nativeError(err error) (ee *cberrors.EngineError, ok bool) {
	var (
		msErr     mssql.Error
		pgErr     *pgconn.PgError
		pqErr     *pq.Error
		myErr     *mysql.MySQLError
		sqliteErr sqlite3.Error
	)
	switch {
	case errors.As(err, &msErr):
		return &cberrors.EngineError{
			NativeCode: int(msErr.Number),
			Message:    msErr.Message,
			Cause:      err,
		}, true
	case errors.As(err, &pgErr):
		return &cberrors.EngineError{
			SQLState: pgErr.Code,
			Message:  pgErr.Message,
			Cause:    err,
		}, true
	case errors.As(err, &pqErr):
		return &cberrors.EngineError{
			SQLState: string(pqErr.Code),
			Message:  pqErr.Message,
			Cause:    err,
		}, true
	case errors.As(err, &myErr):
		return &cberrors.EngineError{
			NativeCode: int(myErr.Number),
			Message:    myErr.Message,
			Cause:      err,
		}, true
	case errors.As(err, &sqliteErr):
		return &cberrors.EngineError{
			NativeCode: int(sqliteErr.ExtendedCode),
			Message:    sqliteErr.Error(),
			Cause:      err,
		}, true
	}
	return nil, false
}

// mapError turns a driver failure into an ErrCodeEngineExecution error.
// Context errors pass through untouched so the caller can classify them.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ee, ok := nativeError(err)
	if !ok {
		ee = &cberrors.EngineError{Message: err.Error(), Cause: err}
	}
	return cberrors.Engine(op, ee).
		WithField("driver_error", fmt.Sprintf("%T", err)).
		Err()
}
