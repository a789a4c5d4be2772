// Package delivery defines the inbound surfaces of the application.
package delivery

import "context"

// Delivery is a long-running inbound server, such as the local control API.
type Delivery interface {
	Serve(ctx context.Context) error
}
