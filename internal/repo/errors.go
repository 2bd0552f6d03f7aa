package repo

import (
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	// It aliases gorm.ErrRecordNotFound so callers can match either.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrPreconditionFailed means the row exists but its status (or a
	// set-once column) no longer matches what the caller expected.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrIllegalTransition is returned before touching the database when a
	// patch asks for a status edge the state machine does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrPersistence marks every database failure that is not one of the
	// sentinels above.
	ErrPersistence = errors.New("persistence error")

	// ErrTransient marks persistence failures that survived the reconnect
	// and retry (connection terminated, admin shutdown, network loss).
	ErrTransient = errors.New("transient persistence error")

	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate")
)

// wrapDB passes sentinels through and marks everything else ErrPersistence.
func wrapDB(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrDuplicate) {
		return err
	}
	return errors.Mark(errors.Wrap(err, msg), ErrPersistence)
}
