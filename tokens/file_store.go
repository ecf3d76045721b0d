package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTokenFile задаёт путь по умолчанию для FileTokenStore.
const DefaultTokenFile = ".secrets/twitch_chat_token.json"

// FileTokenStore хранит токен чата в JSON файле с правами 0600.
type FileTokenStore struct {
	Path string
}

type fileToken struct {
	Access    string    `json:"access"`
	Login     string    `json:"login,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// File возвращает путь, с которым работает хранилище.
func (store FileTokenStore) File() string {
	if strings.TrimSpace(store.Path) == "" {
		return DefaultTokenFile
	}
	return store.Path
}

// LoadChatToken читает токен. Отсутствующий файл даёт ошибку с os.ErrNotExist.
func (store FileTokenStore) LoadChatToken() (*Token, error) {
	data, err := os.ReadFile(store.File())
	if err != nil {
		return nil, fmt.Errorf("load chat token: %w", err)
	}

	var payload fileToken
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("load chat token: decode %s: %w", store.File(), err)
	}
	if payload.Access == "" {
		return nil, fmt.Errorf("load chat token: %s has no access token", store.File())
	}

	return &Token{Access: payload.Access, Login: payload.Login, ExpiresAt: payload.ExpiresAt}, nil
}

// SaveChatToken пишет токен во временный файл рядом и переименовывает его,
// чтобы читатель не увидел недописанный JSON.
func (store FileTokenStore) SaveChatToken(token Token) error {
	path := store.File()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save chat token: create dir: %w", err)
	}

	data, err := json.MarshalIndent(fileToken{
		Access:    token.Access,
		Login:     token.Login,
		ExpiresAt: token.ExpiresAt.UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("save chat token: encode json: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return fmt.Errorf("save chat token: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("save chat token: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save chat token: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save chat token: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save chat token: rename: %w", err)
	}
	return nil
}

// Delete удаляет файл токена. Отсутствие файла ошибкой не считается.
func (store FileTokenStore) Delete() error {
	if err := os.Remove(store.File()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete chat token: %w", err)
	}
	return nil
}
