package api

// Error codes surfaced in HTTP error responses. Clients branch on these
// rather than on message text.
const (
	CodeBadRequest                = "BAD_REQUEST"
	CodeInternal                  = "INTERNAL"
	CodeFlowVersionNotFound       = "FLOW_VERSION_NOT_FOUND"
	CodeCollectionVersionNotFound = "COLLECTION_VERSION_NOT_FOUND"
	CodeCollectionNotFound        = "COLLECTION_NOT_FOUND"
	CodeInstanceNotFound          = "INSTANCE_NOT_FOUND"
	CodeFlowNotFound              = "FLOW_NOT_FOUND"
	CodeRunNotFound               = "RUN_NOT_FOUND"
	CodeLogsNotFound              = "LOGS_NOT_FOUND"
	CodeQuotaExceeded             = "QUOTA_EXCEEDED"
	CodeStatusNotTerminal         = "STATUS_NOT_TERMINAL"
)

// ErrorBody is the JSON error envelope returned by every endpoint.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}
