package graph

import "fmt"

// NumericError is a failure that must be reported to the client as a
// specific RFC numeric reply rather than as a disconnect. The dispatcher
// translates these directly into numeric lines.
type NumericError struct {
	Numeric int
	Text    string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("%03d %s", e.Numeric, e.Text)
}

func numErr(numeric int, format string, args ...interface{}) error {
	return &NumericError{Numeric: numeric, Text: fmt.Sprintf(format, args...)}
}

// Numeric reply codes this package's operations can produce, named per
// §6's reserved set.
const (
	ErrNoSuchChannel     = 403
	ErrCannotSendToChan  = 404
	ErrNicknameInUse     = 433
	ErrUserNotInChannel  = 441
	ErrUserOnChannel     = 443
	ErrNotOnChannel      = 442
	ErrUnknownMode       = 472
	ErrInviteOnlyChan    = 473
	ErrBannedFromChan    = 474
	ErrBadChannelKey     = 475
	ErrChanOpPrivsNeeded = 482
	ErrChannelIsFull     = 471
	ErrNeedRegNick       = 477
)
