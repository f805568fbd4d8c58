package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// MySQL server error numbers recognised by fromMySQL.
const (
	mysqlDupEntry         = 1062
	mysqlBadNull          = 1048
	mysqlCheckConstraint  = 3819
	mysqlDataTooLong      = 1406
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
	mysqlServerGone       = 2006
	mysqlServerLost       = 2013
)

// pgKeyField pulls the column list out of "Key (id)=(...) already exists.".
var pgKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError converts driver errors from the job store into AppErrors. Postgres (pgx),
// MySQL and SQLite errors are recognised along with no-rows, context and connection
// failures. Anything else is returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "job store call timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, "job store call canceled")
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		return Wrap(err, ErrCodeNotFound, "job not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromPostgres(pgErr)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return fromMySQL(myErr)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return fromSQLite(liteErr)
	}

	if isConnectionError(err) {
		return Wrap(err, ErrCodeUnavailable, "job store unavailable")
	}
	return err
}

// IsRetryableDBError reports whether err is lock contention worth retrying in a fresh
// transaction. Context errors never are since the caller's deadline already passed.
func IsRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return IsBusy(MapDBError(err))
}

func fromPostgres(pgErr *pgconn.PgError) error {
	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		return &AppError{Code: ErrCodeConflict, Message: "job already exists", Field: pgConflictField(pgErr), Cause: pgErr}
	case pgErr.Code == pgerrcode.NotNullViolation:
		return &AppError{Code: ErrCodeValidation, Message: "value is required", Field: pgErr.ColumnName, Cause: pgErr}
	case pgErr.Code == pgerrcode.CheckViolation,
		pgErr.Code == pgerrcode.StringDataRightTruncationDataException,
		pgErr.Code == pgerrcode.InvalidTextRepresentation:
		return &AppError{Code: ErrCodeValidation, Message: "value rejected by the job store", Field: pgErr.ColumnName, Cause: pgErr}
	case pgErr.Code == pgerrcode.DeadlockDetected,
		pgErr.Code == pgerrcode.SerializationFailure,
		pgErr.Code == pgerrcode.LockNotAvailable:
		return Wrap(pgErr, ErrCodeBusy, "job store busy")
	case pgErr.Code == pgerrcode.QueryCanceled:
		return Wrap(pgErr, ErrCodeTimeout, "job store statement timed out")
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow,
		pgErr.Code == pgerrcode.TooManyConnections:
		return Wrap(pgErr, ErrCodeUnavailable, "job store unavailable")
	default:
		return Wrap(pgErr, ErrCodeInternal, "job store error")
	}
}

// pgConflictField prefers the column metadata and falls back to the Detail text.
func pgConflictField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := pgKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func fromMySQL(myErr *mysql.MySQLError) error {
	switch myErr.Number {
	case mysqlDupEntry:
		return &AppError{Code: ErrCodeConflict, Message: "job already exists", Field: "id", Cause: myErr}
	case mysqlBadNull, mysqlCheckConstraint, mysqlDataTooLong:
		return Wrap(myErr, ErrCodeValidation, "value rejected by the job store")
	case mysqlLockWaitTimeout, mysqlDeadlockDetected:
		return Wrap(myErr, ErrCodeBusy, "job store busy")
	case mysqlServerGone, mysqlServerLost:
		return Wrap(myErr, ErrCodeUnavailable, "job store unavailable")
	default:
		return Wrap(myErr, ErrCodeInternal, "job store error")
	}
}

func fromSQLite(liteErr sqlite3.Error) error {
	switch liteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &AppError{Code: ErrCodeConflict, Message: "job already exists", Field: "id", Cause: liteErr}
	case sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
		return Wrap(liteErr, ErrCodeValidation, "value rejected by the job store")
	}
	switch liteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return Wrap(liteErr, ErrCodeBusy, "job store busy")
	case sqlite3.ErrCantOpen:
		return Wrap(liteErr, ErrCodeUnavailable, "job store unavailable")
	default:
		return Wrap(liteErr, ErrCodeInternal, "job store error")
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
