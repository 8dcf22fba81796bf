package server

import "context"

// Server is a long-running listener that Start blocks on until Stop is called
// or ctx is cancelled.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
