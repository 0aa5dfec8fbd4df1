package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultURL(t *testing.T) {
	assert.Equal(t, "https://certs.vault.azure.net/", VaultURL("certs"))
	assert.Equal(t, "https://other.example/", VaultURL("https://other.example/"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", &azcore.ResponseError{StatusCode: 404})))
	assert.False(t, IsNotFound(&azcore.ResponseError{StatusCode: 403}))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestStatic(t *testing.T) {
	s := Static{"vault": {"Storage": "conn"}}

	v, found, err := s.GetSecret(context.Background(), "vault", "Storage")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "conn", v)

	_, found, err = s.GetSecret(context.Background(), "missing", "Storage")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKeyVaultRequiresNames(t *testing.T) {
	_, _, err := NewKeyVault(nil).GetSecret(context.Background(), "", "Storage")
	assert.Error(t, err)
}
