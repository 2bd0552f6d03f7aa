package repo

import (
	"database/sql"
	"database/sql/driver"
	"io"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// Classifier reports whether err means the connection was lost and the
// operation may succeed on a fresh connection.
type Classifier func(err error) bool

// PostgresTransient recognises server-side terminations (57P01
// admin_shutdown, 57P02 crash_shutdown, 57P03 cannot_connect_now), the 08
// connection-exception class, and client-side connection loss.
func PostgresTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return connectionLost(err)
}

// SQLiteTransient only recognises a closed or broken handle; an embedded
// database has no server to drop the connection.
func SQLiteTransient(err error) bool {
	if err == nil {
		return false
	}
	return connectionLost(err)
}

func connectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is closed") ||
		strings.Contains(low, "conn closed") ||
		strings.Contains(low, "connection reset by peer") ||
		strings.Contains(low, "broken pipe")
}
