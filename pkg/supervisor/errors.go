package supervisor

import (
	"errors"
	"fmt"
)

// ErrNilProcess is returned when a Spawner reports success without a process.
var ErrNilProcess = errors.New("spawner returned no process")

// PanicError carries a panic recovered inside a run together with the
// stack of the goroutine that panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("run panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
