package system

import "context"

// Service represents a lifecycle-managed component such as the HTTP server or
// the harvest monitor. The Manager starts and stops them in registration
// order.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
