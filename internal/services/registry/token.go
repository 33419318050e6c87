package registry

import "github.com/google/uuid"

// newToken mints a 128-bit opaque reconnection token
func newToken() string {
	return uuid.NewString()
}
