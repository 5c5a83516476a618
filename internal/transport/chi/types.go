package chi

// ErrorCode is the machine-readable error code of an ErrorResponse.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest         ErrorCode = "bad_request"
	ErrorCodeInvalidCoordinates ErrorCode = "invalid_coordinates"
	ErrorCodeInvalidCount       ErrorCode = "invalid_count"
	ErrorCodeDataIntegrity      ErrorCode = "data_integrity"
	ErrorCodeRateLimited        ErrorCode = "rate_limited"
	ErrorCodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SearchResponse is the body of GET /search.
type SearchResponse struct {
	Products []map[string]any `json:"products"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
