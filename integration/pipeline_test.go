//go:build integration

package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appsign"
	"github.com/meigma/appsign/internal/testutil"
	"github.com/meigma/appsign/storage"
)

func testPackage() appsign.Package {
	return appsign.Package{
		GUID:                   "integration-app",
		VersionID:              7,
		Packaged:               true,
		FilePath:               "files/7/app.zip",
		SignedFilePath:         "signed/7/app.zip",
		SignedReviewerFilePath: "reviewer/7/app.zip",
	}
}

func readAll(t *testing.T, st storage.Storage, path string) []byte {
	t.Helper()
	rc, err := st.Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func newSigner(t *testing.T, st storage.Storage, server string) *appsign.Signer {
	t.Helper()
	cfg := appsign.Config{
		Public:   appsign.Endpoint{Active: true, Server: server},
		Reviewer: appsign.Endpoint{Active: true, Server: server},
		Timeout:  5 * time.Second,
	}
	s, err := appsign.NewSigner(cfg, appsign.WithStorage(st), appsign.WithTempDir(t.TempDir()))
	require.NoError(t, err)
	return s
}

func TestSignVersionToRegistry(t *testing.T) {
	ctx := context.Background()
	st := newRegistryStorage(t)
	svc := testutil.NewSigningService(t, []byte("FAKESIG"))
	pkg := testPackage()

	_, _, err := storage.Copy(ctx, st, pkg.FilePath, bytes.NewReader(testutil.AppZip(t)))
	require.NoError(t, err)

	s := newSigner(t, st, svc.URL)

	public, err := s.SignVersion(ctx, pkg)
	require.NoError(t, err)
	reviewer, err := s.SignVersion(ctx, pkg, appsign.SignWithReviewer(true))
	require.NoError(t, err)

	_, files := testutil.ReadZip(t, readAll(t, st, public))
	assert.Equal(t, []byte("FAKESIG"), files["META-INF/zigbert.rsa"])
	assert.JSONEq(t, `{"id":"integration-app","version":7}`, string(files["META-INF/ids.json"]))

	_, files = testutil.ReadZip(t, readAll(t, st, reviewer))
	assert.JSONEq(t, `{"id":"reviewer-integration-app-7","version":7}`, string(files["META-INF/ids.json"]))

	// second call finds the signed artifact and skips the service
	_, err = s.SignVersion(ctx, pkg)
	require.NoError(t, err)
	assert.Len(t, svc.Requests(), 2)
}

func TestSignVersionFailureRemovesRegistryArtifact(t *testing.T) {
	ctx := context.Background()
	st := newRegistryStorage(t)
	svc := testutil.NewSigningService(t, []byte("FAKESIG"))
	pkg := testPackage()

	_, _, err := storage.Copy(ctx, st, pkg.FilePath, bytes.NewReader(testutil.AppZip(t)))
	require.NoError(t, err)

	s := newSigner(t, st, svc.URL)
	_, err = s.SignVersion(ctx, pkg)
	require.NoError(t, err)

	svc.SetHandler(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err = s.SignVersion(ctx, pkg, appsign.SignWithResign(true))
	require.ErrorIs(t, err, appsign.ErrSigning)

	ok, err := st.Exists(ctx, pkg.SignedFilePath)
	require.NoError(t, err)
	assert.False(t, ok)
}
