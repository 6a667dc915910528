package interfaces

import "raidboard/pkg/types"

// EventPublisher receives committed session transitions
// TECHNICAL DISCOVERY: Publish is called outside every session lock and must
// not block; implementations drop events rather than stall the caller
type EventPublisher interface {
	Publish(event *types.Event)
}
