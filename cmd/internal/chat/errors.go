package chat

import (
	"errors"
	"fmt"

	v1 "parley/shared/contracts/chat/v1"
)

// Sentinel error kinds. Every OpError carries exactly one of them.
var (
	ErrArg               = errors.New("invalid argument")
	ErrParse             = errors.New("unparseable payload")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrMembership        = errors.New("sender not in group")
	ErrStore             = errors.New("store failure")
	ErrTransport         = errors.New("transport failure")
	ErrNoNewNotification = errors.New("no new notification")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers and tests.
// Msg may include human-readable context.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func argError(op, msg string) error {
	return OpError{Op: op, Kind: ErrArg, Msg: msg}
}

func storeError(op string, err error) error {
	return OpError{Op: op, Kind: ErrStore, Err: err}
}

// Wrap attaches kind to err under op unless err already carries a chat kind.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	var oe OpError
	if errors.As(err, &oe) {
		return err
	}
	return OpError{Op: op, Kind: kind, Err: err}
}

func IsArg(err error) bool           { return errors.Is(err, ErrArg) }
func IsParse(err error) bool         { return errors.Is(err, ErrParse) }
func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsMembership(err error) bool    { return errors.Is(err, ErrMembership) }
func IsStore(err error) bool         { return errors.Is(err, ErrStore) }
func IsTransport(err error) bool     { return errors.Is(err, ErrTransport) }

// CodeOf maps an error to its fixed wire reply code.
func CodeOf(err error) v1.Code {
	switch {
	case err == nil:
		return v1.CodeSuccess
	case errors.Is(err, ErrArg):
		return v1.CodeArgError
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMembership):
		return v1.CodeNotExists
	case errors.Is(err, ErrAlreadyExists):
		return v1.CodeAlreadyExists
	case errors.Is(err, ErrStore):
		return v1.CodeSQLError
	case errors.Is(err, ErrTransport):
		return v1.CodeJoinError
	default:
		// ErrParse, ErrNoNewNotification and anything unclassified.
		return v1.CodeFail
	}
}

// ReplyFor renders err as a failure reply. A nil err renders success with no data.
func ReplyFor(err error) v1.Reply {
	if err == nil {
		return v1.OK(nil)
	}
	msg := err.Error()
	var oe OpError
	if errors.As(err, &oe) {
		msg = oe.Kind.Error()
		if oe.Msg != "" {
			msg += ": " + oe.Msg
		}
	}
	return v1.Fail(CodeOf(err), msg)
}
