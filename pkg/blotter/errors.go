package blotter

import (
	"errors"
	"fmt"
)

// Code identifies one entry of the error taxonomy. Codes cross the HTTP
// boundary verbatim as error_code, so their spelling is part of the API.
type Code string

const (
	CodeValidation          Code = "ValidationError"
	CodeDuplicateClOrdID    Code = "DuplicateClientOrderId"
	CodeInvalidTransition   Code = "InvalidStateTransition"
	CodeNotCancellable      Code = "OrderNotCancellable"
	CodeNotReplaceable      Code = "OrderNotReplaceable"
	CodeExecutionOverrun    Code = "ExecutionQuantityOverrun"
	CodeSessionUnavailable  Code = "SessionUnavailable"
	CodeOrphanEvent         Code = "OrphanEvent"
	CodeUnknownOrder        Code = "UnknownOrder"
	CodeUnsupportedMsgType  Code = "UnsupportedMessageType"
	CodeMalformedField      Code = "MalformedField"
)

// Error is the taxonomy error type. Every failure the engine or translator
// can produce is one of these; all are recoverable.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func Errf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code, defaulting to ValidationError for
// errors that did not originate in the blotter.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeValidation
}
