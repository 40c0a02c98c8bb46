package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownEventError reports a log whose topic0 matches no event of the ABI.
type UnknownEventError struct {
	Topic0 string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("log signature %s does not match any event in this abi", e.Topic0)
}

// UnknownEventNameError reports a by-name lookup miss.
type UnknownEventNameError struct {
	Name string
}

func (e *UnknownEventNameError) Error() string {
	return fmt.Sprintf("event named %q was not found in contract abi", e.Name)
}

// AmbiguousEventNameError reports a by-name lookup of an overloaded event.
type AmbiguousEventNameError struct {
	Name       string
	Signatures []string
}

func (e *AmbiguousEventNameError) Error() string {
	return fmt.Sprintf("event name %q is ambiguous: %s", e.Name, strings.Join(e.Signatures, ", "))
}

// DuplicateEventError reports two ABI entries sharing one signature hash.
type DuplicateEventError struct {
	ID         common.Hash
	Signatures []string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate event signature %s: %s", e.ID.Hex(), strings.Join(e.Signatures, ", "))
}

// MalformedLogError reports a log that does not fit the shape of its event.
type MalformedLogError struct {
	Event string
	Err   error
}

func (e *MalformedLogError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Event, e.Err)
}

func (e *MalformedLogError) Unwrap() error { return e.Err }

// IsUnknownEvent reports whether err is an unknown signature or name miss.
func IsUnknownEvent(err error) bool {
	var byID *UnknownEventError
	var byName *UnknownEventNameError
	return errors.As(err, &byID) || errors.As(err, &byName)
}
