// Package appsign signs packaged apps through a remote signing service.
//
// A packaged app is a ZIP archive with a top-level manifest.webapp. Signing
// extracts a JAR-style signature manifest from the archive, posts it to the
// configured signing endpoint, merges the returned PKCS#7 signature back into
// the archive and writes the result to its destination. Two endpoints are
// configured: a public one for production builds and a reviewer one for
// builds installable only in review contexts.
//
// # Quick Start
//
//	cfg, err := appsign.LoadConfig("signing.yaml")
//	if err != nil {
//	    return err
//	}
//	st, err := local.New("/srv/apps")
//	if err != nil {
//	    return err
//	}
//	s, err := appsign.NewSigner(cfg, appsign.WithStorage(st))
//	if err != nil {
//	    return err
//	}
//	path, err := s.SignVersion(ctx, pkg, appsign.SignWithReviewer(true))
//
// # Fallback
//
// When the selected endpoint is not active, the archive is copied to the
// destination unsigned. This keeps development environments without a
// signing service working.
//
// # Errors
//
// Failures match [ErrSigning]; extraction failures additionally match
// [ErrExtraction]. An active endpoint without a server address fails with
// [ErrConfiguration] before any request is made. [IsRetryable] tells
// transport and status failures apart from permanent ones.
package appsign
