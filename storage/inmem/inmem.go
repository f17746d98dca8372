// Package inmem provides mutex-guarded in-memory repositories. They back
// the test suites and the zero-dependency local mode; the database package
// holds the PostgreSQL equivalents.
package inmem

import "github.com/google/uuid"

func newID() string { return uuid.NewString() }
