package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for requests.
func NewID() string { return uuid.NewString() }
