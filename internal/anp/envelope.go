// ABOUTME: Shared result envelope types for ANP tool responses.
// ABOUTME: Every tool returns {ok, ...} on success or {ok:false, error:{code,message}} on failure.

package anp

// Error codes returned in tool envelopes.
const (
	CodeHTTPError        = "ANP_HTTP_ERROR"
	CodeRequestError     = "ANP_REQUEST_ERROR"
	CodeInvalidResponse  = "ANP_INVALID_RESPONSE"
	CodeInvocationFailed = "ANP_INVOCATION_FAILED"
	CodeNotInitialized   = "ANP_NOT_INITIALIZED"
)

// Error is the machine-readable error half of a tool envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Raw     any    `json:"raw,omitempty"`
}

// Link is a followable reference extracted from an ANP document.
type Link struct {
	Rel      string `json:"rel"`
	URL      string `json:"url"`
	Protocol string `json:"protocol,omitempty"`
	Title    string `json:"title,omitempty"`
}

// FetchResult is the envelope returned by DocClient.Fetch.
type FetchResult struct {
	OK          bool   `json:"ok"`
	ContentType string `json:"contentType,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Text        string `json:"text,omitempty"`
	JSON        any    `json:"json,omitempty"`
	Links       []Link `json:"links,omitempty"`
	Error       *Error `json:"error,omitempty"`
}

// InvokeResult is the envelope returned by RPCClient.Invoke.
type InvokeResult struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Raw    any    `json:"raw,omitempty"`
	Error  *Error `json:"error,omitempty"`
}
