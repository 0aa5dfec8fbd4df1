package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/acme/keys"
	"github.com/cpu/acmerenew/config"
	"github.com/cpu/acmerenew/storage"
)

// newAccountServer serves just enough of an ACME server to register
// accounts. It counts newAccount calls.
func newAccountServer(t *testing.T) (*httptest.Server, *int32) {
	var calls int32
	var nonces int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	nonce := func(w http.ResponseWriter) {
		w.Header().Set(acme.REPLAY_NONCE_HEADER, fmt.Sprintf("nonce-%d", atomic.AddInt32(&nonces, 1)))
	}
	mux.HandleFunc("/dir", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"newNonce":%q,"newAccount":%q,"newOrder":%q}`,
			srv.URL+"/nonce", srv.URL+"/acct", srv.URL+"/order")
	})
	mux.HandleFunc("/nonce", func(w http.ResponseWriter, _ *http.Request) {
		nonce(w)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/acct", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		nonce(w)
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Location", srv.URL+"/acct/1")
		w.Header().Set("Content-Type", "application/json")
		if n > 1 {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		fmt.Fprint(w, `{"status":"valid"}`)
	})
	return srv, &calls
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestAccountKeyPath(t *testing.T) {
	p, err := AccountKeyPath(acme.LETSENCRYPT_STAGING_DIRECTORY, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acme-staging-v02.api.letsencrypt.org--admin@example.com.pem", p)

	p, err = AccountKeyPath("http://localhost:14000/dir", "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "localhost_14000--a@b.c.pem", p)
}

func TestAuthenticateStoresAndReusesKey(t *testing.T) {
	srv, calls := newAccountServer(t)
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	opts := config.AcmeOptions{Email: "admin@example.com", Directory: srv.URL + "/dir"}

	a, err := NewAuthenticator(store, "", "", testLog())
	require.NoError(t, err)
	sess, err := a.Authenticate(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/acct/1", sess.AccountID)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	keyPath, err := AccountKeyPath(opts.Directory, opts.Email)
	require.NoError(t, err)
	stored, err := store.Read(ctx, keyPath)
	require.NoError(t, err)
	_, err = keys.SignerFromPEM(stored)
	require.NoError(t, err)

	again, err := a.Authenticate(ctx, opts)
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	// A new authenticator loads the stored key instead of replacing it.
	b, err := NewAuthenticator(store, "", "", testLog())
	require.NoError(t, err)
	_, err = b.Authenticate(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	after, err := store.Read(ctx, keyPath)
	require.NoError(t, err)
	assert.Equal(t, stored, after)
}

func TestAuthenticateDirectoryOverride(t *testing.T) {
	srv, _ := newAccountServer(t)
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	a, err := NewAuthenticator(store, "", srv.URL+"/dir", testLog())
	require.NoError(t, err)
	opts := config.AcmeOptions{Email: "admin@example.com", Staging: true}
	assert.Equal(t, srv.URL+"/dir", a.DirectoryURL(opts))
	_, err = a.Authenticate(context.Background(), opts)
	require.NoError(t, err)
}

func TestAuthenticateRejectsCorruptKey(t *testing.T) {
	srv, calls := newAccountServer(t)
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	opts := config.AcmeOptions{Email: "admin@example.com", Directory: srv.URL + "/dir"}
	keyPath, err := AccountKeyPath(opts.Directory, opts.Email)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, keyPath, []byte("not a key")))

	a, err := NewAuthenticator(store, "", "", testLog())
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, opts)
	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}
