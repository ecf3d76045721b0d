package tokens

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	store := FileTokenStore{Path: path}

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveChatToken(Token{Access: "abc", Login: "bot", ExpiresAt: exp}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.LoadChatToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Access)
	assert.Equal(t, "bot", got.Login)
	assert.True(t, got.ExpiresAt.Equal(exp))
}

func TestFileTokenStoreMissingFile(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "none.json")}
	_, err := store.LoadChatToken()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManagerGetRejectsExpiring(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "t.json")}
	require.NoError(t, store.SaveChatToken(Token{Access: "abc", ExpiresAt: time.Now().Add(time.Minute)}))

	_, err := NewChatTokenManager(store, nil).Get(context.Background())
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestManagerSaveValidatesAndStores(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "t.json")}
	var seen string
	manager := NewChatTokenManager(store, func(_ context.Context, token string) (string, time.Duration, error) {
		seen = token
		return "bot", 2 * time.Hour, nil
	})

	tok, err := manager.Save(context.Background(), "oauth:xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", seen)
	assert.Equal(t, "bot", tok.Login)

	got, err := manager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "xyz", got.Access)
}

func TestManagerSavePropagatesValidationError(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "t.json")}
	manager := NewChatTokenManager(store, func(context.Context, string) (string, time.Duration, error) {
		return "", 0, errors.New("invalid")
	})

	_, err := manager.Save(context.Background(), "x")
	require.EqualError(t, err, "invalid")
	_, statErr := os.Stat(store.Path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestManagerGetHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChatTokenManager(FileTokenStore{}, nil).Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileTokenStoreDelete(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "t.json")}
	require.NoError(t, store.Delete())

	require.NoError(t, store.SaveChatToken(Token{Access: "a", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Delete())
	_, err := store.LoadChatToken()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileTokenStoreRejectsEmptyAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access":"","expires_at":"2030-01-01T00:00:00Z"}`), 0o600))

	_, err := FileTokenStore{Path: path}.LoadChatToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}

func TestFileTokenStoreDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultTokenFile, FileTokenStore{}.File())
	assert.Equal(t, "x.json", FileTokenStore{Path: "x.json"}.File())
}
