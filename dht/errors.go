package dht

import "github.com/pkg/errors"

// ProtocolError-equivalent taxonomy members from spec.md §7. Each is a
// distinct sentinel so callers can classify with errors.Is against a value
// that may have been wrapped (github.com/pkg/errors) on its way up.
var (
	// ErrMissingArgument names a required "a" field that is absent or
	// malformed. Query handlers reply to that case on the wire with code 203
	// through queryError; they do not return this value.
	ErrMissingArgument = errors.New("dht: missing or malformed required argument")

	// ErrBadToken names an announce_peer token that does not verify against
	// the token authority. handleAnnouncePeer replies with code 203 through
	// queryError; it does not return this value.
	ErrBadToken = errors.New("dht: cannot announce_peer with bad token")

	// ErrMethodUnknown names an unrecognized query verb. handleQuery replies
	// with code 204 directly; it does not return this value.
	ErrMethodUnknown = errors.New("dht: unexpected query type")

	// ErrUnexpectedMessage is wrapped into the WarningEvent emitted when an
	// error message carries an (endpoint, tid) pair with no matching pending
	// transaction. An unmatched response is answered with a 201 error reply
	// instead and emits no event.
	ErrUnexpectedMessage = errors.New("dht: unexpected message")

	// ErrClosed names the closed-node condition. Public operations invoked
	// after Close are no-ops and do not return it.
	ErrClosed = errors.New("dht: node is closed")
)

// queryError pairs a taxonomy error with the KRPC error code it maps to,
// letting handlers return a Go error and have the engine translate it into
// the correct wire reply without handlers touching bencode directly.
type queryError struct {
	code int
	msg  string
}

func (e *queryError) Error() string { return e.msg }

func newQueryError(code int, msg string) error {
	return &queryError{code: code, msg: msg}
}
