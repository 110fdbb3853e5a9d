package appsign

import (
	"errors"

	signhttp "github.com/meigma/appsign/http"
	"github.com/meigma/appsign/jar"
)

// Sentinel errors for signing operations.
//
// Every error returned by Signer matches ErrSigning or ErrConfiguration.
// Extraction failures match both ErrExtraction and ErrSigning.
var (
	// ErrSigning is returned when a signing invocation fails. The destination
	// is never left partially written.
	ErrSigning = errors.New("appsign: signing failed")

	// ErrExtraction is returned when the source archive cannot be opened or
	// has no valid manifest. It is not retryable.
	ErrExtraction = errors.New("appsign: archive extraction failed")

	// ErrConfiguration is returned when signing is enabled but misconfigured,
	// for example an active endpoint without a server address.
	ErrConfiguration = errors.New("appsign: invalid configuration")

	// ErrNotPackaged is returned by SignVersion for apps that are not packaged.
	ErrNotPackaged = errors.New("appsign: not a packaged app")

	// ErrNoFile is returned by SignVersion when the version has no file.
	ErrNoFile = errors.New("appsign: no file")

	// ErrNoVersion is returned by SignVersion when the package has no version id.
	ErrNoVersion = errors.New("appsign: no version")
)

// Errors re-exported from the signing client.
var (
	// ErrRequest is returned when the signing service cannot be reached or times out.
	ErrRequest = signhttp.ErrRequest

	// ErrUnexpectedStatus is returned when the signing service answers with a non-200 status.
	ErrUnexpectedStatus = signhttp.ErrUnexpectedStatus

	// ErrMalformedResponse is returned when the signing service response carries no usable signature.
	ErrMalformedResponse = signhttp.ErrMalformedResponse
)

// Errors re-exported from jar.
var (
	// ErrBadArchive is returned when the source is not a ZIP container.
	ErrBadArchive = jar.ErrBadArchive

	// ErrMissingManifest is returned when the source lacks the required app manifest.
	ErrMissingManifest = jar.ErrMissingManifest

	// ErrEmptySignature is returned when the signing service answers with an empty signature.
	ErrEmptySignature = jar.ErrEmptySignature
)

// IsRetryable reports whether retrying the whole invocation may succeed.
// Only transport failures and non-200 responses qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRequest) || errors.Is(err, ErrUnexpectedStatus)
}
