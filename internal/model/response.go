package model

// BasicResponse is the envelope used by the admin API.
type BasicResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

const (
	SuccessCode = "000000"
	ErrorCode   = "999999"
)

// Success wraps data with a success code.
func Success(msg string, data any) BasicResponse {
	return BasicResponse{
		Code: SuccessCode,
		Msg:  msg,
		Data: data,
	}
}

// Error returns a BasicResponse with the default error code.
func Error(msg string) BasicResponse {
	return BasicResponse{
		Code: ErrorCode,
		Msg:  msg,
	}
}

// NotifyResponse is returned to the caller of a dispatch invocation. Success is
// false only when the invocation failed before any send was attempted.
type NotifyResponse struct {
	Success bool     `json:"success"`
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

// NotifyFailure builds the response for an aborted invocation.
func NotifyFailure(msg string) NotifyResponse {
	return NotifyResponse{Errors: []string{msg}}
}

// ResponseFromResult projects a dispatch result onto the wire response.
func ResponseFromResult(res DispatchResult) NotifyResponse {
	return NotifyResponse{
		Success: true,
		Sent:    res.SuccessCount,
		Failed:  res.FailureCount,
		Total:   res.RequestedTokenCount,
		Errors:  res.FailureMessages(),
	}
}
