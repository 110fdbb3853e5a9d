//go:build integration

// Package integration runs the signing pipeline end to end.
//
// These tests require Docker and spin up a real OCI registry using
// testcontainers; signed archives are stored in it through storage/oci.
// Run with: go test -tags=integration ./integration/...
package integration
