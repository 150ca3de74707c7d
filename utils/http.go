// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for profile-service polling.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
