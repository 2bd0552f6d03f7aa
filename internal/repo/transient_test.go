package repo

import (
	"database/sql/driver"
	"io"
	"net"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"crash shutdown", &pgconn.PgError{Code: "57P02"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"connection failure class", &pgconn.PgError{Code: "08006"}, true},
		{"wrapped admin shutdown", errors.Wrap(&pgconn.PgError{Code: "57P01"}, "update"), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"bad conn", driver.ErrBadConn, true},
		{"unexpected eof", errors.Wrap(io.ErrUnexpectedEOF, "read"), true},
		{"net op", &net.OpError{Op: "read", Err: errors.New("reset")}, true},
		{"plain", errors.New("syntax error at or near"), false},
	}
	for _, c := range cases {
		if got := PostgresTransient(c.err); got != c.want {
			t.Errorf("%s: PostgresTransient = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestSQLiteTransient(t *testing.T) {
	if SQLiteTransient(nil) {
		t.Fatalf("nil is not transient")
	}
	if !SQLiteTransient(errors.New("sql: database is closed")) {
		t.Fatalf("closed handle should be transient")
	}
	if SQLiteTransient(errors.New("UNIQUE constraint failed: idempotency.key")) {
		t.Fatalf("constraint errors are not transient")
	}
}
