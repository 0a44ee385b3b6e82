// Package system manages the lifecycle of long-running raffle components.
package system

import "context"

// Service is a lifecycle-managed component such as the keeper, the
// randomness dispatcher, or the event bus.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for components without background work.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string                { return n.ServiceName }
func (n NoopService) Start(context.Context) error { return nil }
func (n NoopService) Stop(context.Context) error  { return nil }
