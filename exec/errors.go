package exec

import "fmt"

// ErrorKind classifies execution failures
type ErrorKind int

const (
	TypeMismatch ErrorKind = iota
	DivideByZero
	UnknownFunction
	SandboxExceeded
)

func (k ErrorKind) String() string {
	return [...]string{"type_mismatch", "divide_by_zero", "unknown_function", "sandbox_exceeded"}[k]
}

// ExecError is a runtime failure inside the execution engine. The query
// fails but the connection survives.
type ExecError struct {
	Kind    ErrorKind
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution error (%s): %s", e.Kind, e.Message)
}

func typeMismatch(format string, args ...interface{}) *ExecError {
	return &ExecError{Kind: TypeMismatch, Message: fmt.Sprintf(format, args...)}
}
