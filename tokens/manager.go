package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrTokenExpired возвращается, когда сохранённый токен истёк или вот-вот истечёт.
// Пользовательский токен нельзя обновить без refresh-токена, его нужно выпустить заново.
var ErrTokenExpired = errors.New("tokens: chat token expired")

// Validator проверяет токен и возвращает логин владельца и оставшийся срок.
type Validator func(ctx context.Context, accessToken string) (login string, expiresIn time.Duration, err error)

// ChatTokenManager выдаёт токен чата из хранилища.
type ChatTokenManager struct {
	store    TokenStore
	validate Validator
	now      func() time.Time
	mu       sync.Mutex
}

// NewChatTokenManager создает менеджер токена чата.
func NewChatTokenManager(store TokenStore, validate Validator) *ChatTokenManager {
	return &ChatTokenManager{
		store:    store,
		validate: validate,
		now:      time.Now,
	}
}

// Get возвращает сохранённый токен, если он ещё действителен.
func (manager *ChatTokenManager) Get(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	manager.mu.Lock()
	defer manager.mu.Unlock()

	token, err := manager.store.LoadChatToken()
	if err != nil {
		return Token{}, err
	}
	if manager.isExpiringSoon(token) {
		return Token{}, ErrTokenExpired
	}
	return *token, nil
}

// Save проверяет новый токен и сохраняет его вместе с логином владельца.
func (manager *ChatTokenManager) Save(ctx context.Context, accessToken string) (Token, error) {
	accessToken = strings.TrimPrefix(strings.TrimSpace(accessToken), "oauth:")

	manager.mu.Lock()
	defer manager.mu.Unlock()

	login, expiresIn, err := manager.validate(ctx, accessToken)
	if err != nil {
		return Token{}, err
	}

	token := Token{
		Access:    accessToken,
		Login:     login,
		ExpiresAt: manager.now().Add(expiresIn),
	}
	if manager.isExpiringSoon(&token) {
		return Token{}, ErrTokenExpired
	}

	if err := manager.store.SaveChatToken(token); err != nil {
		return Token{}, err
	}
	return token, nil
}

func (manager *ChatTokenManager) isExpiringSoon(token *Token) bool {
	return token.ExpiresAt.Before(manager.now().Add(5 * time.Minute))
}
