package server

const (
	HttpInternalError       = "internal_error"
	HttpUnknownSelector     = "unknown_selector"
	HttpJobNotFound         = "job_not_found"
	HttpJobConflict         = "job_in_progress"
	HttpServiceUnavailable  = "service_unavailable"
	HttpInvalidRequestError = "invalid_request"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
