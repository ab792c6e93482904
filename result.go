package identityflow

// ResultCode is the closed set of workflow outcomes reported through
// [AuthenticationResult].
type ResultCode int

const (
	// Success means the transition was applied, or had already been applied.
	Success ResultCode = iota
	// IdentityNotFound means no user matches the given identity.
	IdentityNotFound
	// IdentityNotConfirmed means recovery was attempted on an unconfirmed identity.
	IdentityNotConfirmed
	// TokenInvalid covers missing, foreign, expired, used and revoked tokens alike.
	TokenInvalid
	// IdentityConfirmationFailed means the user update failed after a valid token was consumed.
	IdentityConfirmationFailed
	// RecoverPasswordFailed means hashing or the user update failed after a valid token was consumed.
	RecoverPasswordFailed
	// IdentityExists means registration hit an identity that is already taken.
	IdentityExists
	// CredentialInvalid means the current credential did not verify.
	CredentialInvalid
	// CredentialChangeFailed means hashing or the user update failed during a credential change.
	CredentialChangeFailed
)

var resultCodeNames = map[ResultCode]string{
	Success:                    "success",
	IdentityNotFound:           "identity_not_found",
	IdentityNotConfirmed:       "identity_not_confirmed",
	TokenInvalid:               "token_invalid",
	IdentityConfirmationFailed: "identity_confirmation_failed",
	RecoverPasswordFailed:      "recover_password_failed",
	IdentityExists:             "identity_exists",
	CredentialInvalid:          "credential_invalid",
	CredentialChangeFailed:     "credential_change_failed",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return "unknown"
}

// MessageTemplates maps every ResultCode to the message carried by its
// AuthenticationResult. Callers localize from the code, not the text.
var MessageTemplates = map[ResultCode]string{
	Success:                    "Operation completed successfully.",
	IdentityNotFound:           "A record with the supplied identity could not be found.",
	IdentityNotConfirmed:       "The identity has not been confirmed yet.",
	TokenInvalid:               "The code is invalid or has expired.",
	IdentityConfirmationFailed: "The identity could not be confirmed.",
	RecoverPasswordFailed:      "The password could not be changed.",
	IdentityExists:             "A record with the supplied identity already exists.",
	CredentialInvalid:          "The current password is incorrect.",
	CredentialChangeFailed:     "The password could not be changed.",
}

// AuthenticationResult is the outcome of one workflow operation. It is
// created once per call and never mutated afterwards.
type AuthenticationResult struct {
	Code     ResultCode
	User     *User
	Messages []string
}

// NewAuthenticationResult builds a result for code with its template message.
// user may be nil when no user was resolved.
func NewAuthenticationResult(code ResultCode, user *User) AuthenticationResult {
	msg, ok := MessageTemplates[code]
	if !ok {
		msg = code.String()
	}

	var u *User
	if user != nil {
		cp := *user
		u = &cp
	}

	return AuthenticationResult{
		Code:     code,
		User:     u,
		Messages: []string{msg},
	}
}

// Valid reports whether the result is a Success.
func (r AuthenticationResult) Valid() bool {
	return r.Code == Success
}
