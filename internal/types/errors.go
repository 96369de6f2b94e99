package types

// ErrorCode identifies an API failure as {AREA}_{HTTP status}.
type ErrorCode string

const (
	CodePumpInvalid    ErrorCode = "PUMP_400"
	CodePumpBlocked    ErrorCode = "PUMP_409"
	CodeScheduleBad    ErrorCode = "SCHEDULE_400"
	CodeScheduleAbsent ErrorCode = "SCHEDULE_404"
	CodeScheduleStore  ErrorCode = "SCHEDULE_500"
	CodeHistoryStore   ErrorCode = "HISTORY_500"
)

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse wraps a failure in the envelope every handler returns.
// A blocked pump command carries its CommandResult as details.
func NewErrorResponse(code ErrorCode, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
