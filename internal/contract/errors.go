package contract

import "fmt"

// ResolutionError reports a failed ABI lookup request.
type ResolutionError struct {
	Address string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve abi for %s: %v", e.Address, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ParseError reports an ABI lookup response that could not be parsed.
type ParseError struct {
	Address string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse abi response for %s: %v", e.Address, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
