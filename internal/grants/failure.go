package grants

import "net/http"

// Standard OAuth2 error codes surfaced by the engine.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidScope         = "invalid_scope"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeUnsupportedTokenType = "unsupported_token_type"
	CodeServerError          = "server_error"
)

// Failure is a terminal rejection of the current request. It maps directly
// onto the OAuth2 error body and HTTP status; there is no partial success
// and no retry within a request.
type Failure struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (f *Failure) Error() string {
	if f.Description == "" {
		return f.Code
	}
	return f.Code + ": " + f.Description
}

func invalidRequest(desc string) *Failure {
	return &Failure{Code: CodeInvalidRequest, Description: desc, Status: http.StatusBadRequest}
}

func invalidClient(desc string) *Failure {
	return &Failure{Code: CodeInvalidClient, Description: desc, Status: http.StatusUnauthorized}
}

// invalidCredentials covers resource-owner credential failures. The
// description stays generic: which half of the credential pair failed is
// not disclosed.
func invalidCredentials() *Failure {
	return &Failure{Code: CodeInvalidGrant, Description: "invalid resource owner credentials", Status: http.StatusUnauthorized}
}

func invalidGrant(desc string) *Failure {
	return &Failure{Code: CodeInvalidGrant, Description: desc, Status: http.StatusBadRequest}
}

func invalidScope(desc string) *Failure {
	return &Failure{Code: CodeInvalidScope, Description: desc, Status: http.StatusBadRequest}
}

func unauthorizedClient(desc string) *Failure {
	return &Failure{Code: CodeUnauthorizedClient, Description: desc, Status: http.StatusBadRequest}
}

func unsupportedGrantType(grant string) *Failure {
	return &Failure{Code: CodeUnsupportedGrantType, Description: "grant type not supported: " + grant, Status: http.StatusBadRequest}
}

// serverError deliberately carries no internal detail: storage and codec
// failures are logged by the engine, never echoed to the caller.
func serverError() *Failure {
	return &Failure{Code: CodeServerError, Description: "internal error", Status: http.StatusInternalServerError}
}

func unsupportedTokenType(hint string) *Failure {
	return &Failure{Code: CodeUnsupportedTokenType, Description: "token type not revocable: " + hint, Status: http.StatusBadRequest}
}
