package contracts

import "context"

// Backplane fans a room broadcast out to every gateway process. The
// subscriber side feeds received frames back into the local registry, so
// delivery to local connections always happens through one path.
// Ordering across processes is only as strong as the backplane's own
// pub/sub ordering; events published while a subscriber is down are lost.
type Backplane interface {
	// Publish sends data to room members held by any process.
	Publish(ctx context.Context, roomID string, data []byte) error
	// Run blocks consuming backplane messages until ctx is done.
	Run(ctx context.Context) error
	Close() error
}
