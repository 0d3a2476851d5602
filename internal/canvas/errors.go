package canvas

import (
	"errors"
	"fmt"
)

// APIError is a failed remote call. Network distinguishes transport
// failures (timeout, refused connection) from requests the remote system
// received and rejected; Status is the HTTP status for the latter.
type APIError struct {
	Status  int
	Message string
	Network bool
}

func (e *APIError) Error() string {
	if e.Network {
		return fmt.Sprintf("canvas: network error: %s", e.Message)
	}
	return fmt.Sprintf("canvas: request rejected (%d): %s", e.Status, e.Message)
}

// IsNetworkError reports whether err is a transport-level remote failure.
func IsNetworkError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Network
}
