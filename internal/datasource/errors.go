package datasource

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("data source not found")
	ErrAlreadyExists      = errors.New("data source already exists")
	ErrUnknownType        = errors.New("no reader for data source type")
	ErrInvalidMetadata    = errors.New("invalid data source metadata")
	ErrAlreadyInitialized = errors.New("data sources already initialized")
	ErrSystemDataSource   = errors.New("system data source cannot be modified")
	ErrTestUnsupported    = errors.New("reader does not support connection tests")
)

// Error records a failed data-source operation.
type Error struct {
	Op   string // initialize, create, add, delete, test
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("datasource %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("datasource %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op, name string, err error) error {
	var dsErr *Error
	if errors.As(err, &dsErr) {
		return err
	}
	return &Error{Op: op, Name: name, Err: err}
}
