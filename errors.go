/*
Package cmc builds Certificate Management over CMS (RFC 5272) responses for a
certificate authority.

It decodes client controls, classifies the outcome of each body part into
CMC status controls, runs the revocation authorization state machine, and
assembles the result into either a degenerate certificates-only SignedData
(simple response) or a CA-signed SignedData carrying a PKIResponse (full
response). Collaborators such as the certificate record store, the shared
secret lookup and the revocation processor are consumed through interfaces.
*/
package cmc

import "errors"

// ErrorCode identifies the category of an error returned by this package.
type ErrorCode int

const (
	// CodeParse indicates a malformed CMS structure.
	CodeParse ErrorCode = iota
	// CodeUnsupportedAlgorithm indicates an algorithm outside the allow-list.
	CodeUnsupportedAlgorithm
	// CodeInvalidSignature indicates a signature that does not verify.
	CodeInvalidSignature
	// CodeCertificateChain indicates the signer does not chain to a trusted root.
	CodeCertificateChain
	// CodeMissingCertificate indicates the signer certificate is not in the message.
	CodeMissingCertificate
	// CodeAttributeInvalid indicates a missing or wrong mandatory signed attribute.
	CodeAttributeInvalid
	// CodeContentTypeMismatch indicates the content-type attribute disagrees
	// with eContentType.
	CodeContentTypeMismatch
	// CodeInvalidConfiguration indicates a builder or responder was set up
	// incorrectly. Several such errors are joined with errors.Join.
	CodeInvalidConfiguration
	// CodeDecode indicates a control value that could not be decoded.
	CodeDecode
	// CodeEncode indicates a control or response that could not be encoded.
	CodeEncode
	// CodeRecordNotFound indicates the record store has no such serial.
	CodeRecordNotFound
	// CodeCredentialNotFound indicates no shared secret exists for a serial.
	CodeCredentialNotFound
	// CodeRequestNotFound indicates the request tracker has no such request id.
	CodeRequestNotFound
	// CodePOPConstruction indicates an EncryptedPOP control could not be built
	// from the challenge material.
	CodePOPConstruction
)

// Error is the error type returned by this package. errors.Is matches it by
// Code, so errors.Is(err, ErrRecordNotFound) holds for any not-found error
// regardless of message or cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error returns the message, followed by the cause when there is one.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is. They carry no message and are only compared by code.
var (
	ErrParse                = &Error{Code: CodeParse}
	ErrUnsupportedAlgorithm = &Error{Code: CodeUnsupportedAlgorithm}
	ErrInvalidSignature     = &Error{Code: CodeInvalidSignature}
	ErrCertificateChain     = &Error{Code: CodeCertificateChain}
	ErrMissingCertificate   = &Error{Code: CodeMissingCertificate}
	ErrAttributeInvalid     = &Error{Code: CodeAttributeInvalid}
	ErrContentTypeMismatch  = &Error{Code: CodeContentTypeMismatch}
	ErrInvalidConfiguration = &Error{Code: CodeInvalidConfiguration}
	ErrDecode               = &Error{Code: CodeDecode}
	ErrEncode               = &Error{Code: CodeEncode}

	// ErrRecordNotFound is what a RecordStore returns, possibly wrapped, for
	// an unknown serial.
	ErrRecordNotFound = &Error{Code: CodeRecordNotFound}

	// ErrCredentialNotFound is what a CredentialLookup returns, possibly
	// wrapped, when no shared secret is provisioned for a serial.
	ErrCredentialNotFound = &Error{Code: CodeCredentialNotFound}

	// ErrRequestNotFound is what a RequestTracker returns for an unknown id.
	ErrRequestNotFound = &Error{Code: CodeRequestNotFound}

	ErrPOPConstruction = &Error{Code: CodePOPConstruction}
)

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func wrapError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func newConfigError(msg string) *Error {
	return &Error{Code: CodeInvalidConfiguration, Message: msg}
}

// joinErrors returns errors.Join of errs, or nil when errs is empty.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
