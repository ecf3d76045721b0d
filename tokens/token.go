package tokens

import "time"

// Token описывает пользовательский OAuth токен для входа в чат.
type Token struct {
	Access    string
	Login     string
	ExpiresAt time.Time
}

// TokenStore описывает хранилище токена чата.
type TokenStore interface {
	LoadChatToken() (*Token, error)
	SaveChatToken(Token) error
}
