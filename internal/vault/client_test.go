package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassphraseFromKV1(t *testing.T) {
	got, err := passphraseFrom(map[string]any{"passphrase": "s3cret", "other": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestPassphraseFromKV2(t *testing.T) {
	data := map[string]any{
		"data":     map[string]any{"key": "from-v2"},
		"metadata": map[string]any{"version": json.Number("3")},
	}
	got, err := passphraseFrom(data, "key")
	require.NoError(t, err)
	assert.Equal(t, "from-v2", got)
}

func TestPassphraseFromWeaklyTyped(t *testing.T) {
	got, err := passphraseFrom(map[string]any{"passphrase": 123456}, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "123456", got)
}

func TestPassphraseFromMissingField(t *testing.T) {
	_, err := passphraseFrom(map[string]any{"other": "x"}, "passphrase")
	require.ErrorIs(t, err, ErrSecret)

	_, err = passphraseFrom(map[string]any{"passphrase": ""}, "passphrase")
	require.ErrorIs(t, err, ErrSecret)
}

func TestGetPassphraseFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/backup", r.URL.Path)
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     map[string]any{"passphrase": "from-vault"},
				"metadata": map[string]any{"version": 1},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), WithAddress(srv.URL), WithToken("root-token"))
	require.NoError(t, err)

	got, err := client.GetPassphrase(context.Background(), "secret/data/backup", "")
	require.NoError(t, err)
	assert.Equal(t, "from-vault", got)
}

func TestGetPassphraseMissingSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), WithAddress(srv.URL), WithToken("t"))
	require.NoError(t, err)

	_, err = client.GetPassphrase(context.Background(), "secret/missing", "")
	require.ErrorIs(t, err, ErrSecret)
}
