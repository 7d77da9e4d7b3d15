package kaggle

import (
	"fmt"
	"net/http"
)

// apiError represents an error response from the Kaggle API.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("kaggle: %s (status %d)", e.Message, e.StatusCode)
}

func newAPIError(status int) *apiError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &apiError{StatusCode: status, Message: "authentication rejected"}
	case http.StatusNotFound:
		return &apiError{StatusCode: status, Message: "dataset not found"}
	default:
		return &apiError{StatusCode: status, Message: "download request failed"}
	}
}

// ClientError is returned for every failed download.
type ClientError struct {
	Message string
	// Unauthorized is set when the API rejected the credentials.
	Unauthorized bool
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("kaggle client: %s", e.Message)
}
