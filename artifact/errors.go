package artifact

import "fmt"

var (
	// ErrNotFound is returned when no object with the given request / name
	// pair exists in the underlying store.
	ErrNotFound = fmt.Errorf("artifact not found")
)
