package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const twitchOAuthValidateURL = "https://id.twitch.tv/oauth2/validate"

// ErrInvalidToken возвращается, когда Twitch отвечает 401 на проверку токена.
var ErrInvalidToken = errors.New("twitch oauth: token is invalid or expired")

// Validation содержит ответ Twitch о пользовательском токене.
type Validation struct {
	ClientID  string
	Login     string
	UserID    string
	Scopes    []string
	ExpiresIn time.Duration
}

// HasScope сообщает, выдан ли токену scope.
func (v Validation) HasScope(scope string) bool {
	for _, s := range v.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validator проверяет токены через id.twitch.tv.
type Validator struct {
	URL    string
	Client *http.Client
}

// ValidateToken проверяет токен валидатором по умолчанию.
func ValidateToken(ctx context.Context, accessToken string) (Validation, error) {
	return Validator{}.Validate(ctx, accessToken)
}

// Validate проверяет токен чата. Префикс "oauth:" допускается.
func (v Validator) Validate(ctx context.Context, accessToken string) (Validation, error) {
	token := strings.TrimPrefix(strings.TrimSpace(accessToken), "oauth:")
	if token == "" {
		return Validation{}, ErrInvalidToken
	}

	endpoint := v.URL
	if endpoint == "" {
		endpoint = twitchOAuthValidateURL
	}
	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Validation{}, fmt.Errorf("twitch oauth: create request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+token)

	resp, err := client.Do(req)
	if err != nil {
		return Validation{}, fmt.Errorf("twitch oauth: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Validation{}, ErrInvalidToken
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return Validation{}, fmt.Errorf("twitch oauth: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		ClientID  string   `json:"client_id"`
		Login     string   `json:"login"`
		UserID    string   `json:"user_id"`
		Scopes    []string `json:"scopes"`
		ExpiresIn int64    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Validation{}, fmt.Errorf("twitch oauth: decode response: %w", err)
	}

	return Validation{
		ClientID:  payload.ClientID,
		Login:     payload.Login,
		UserID:    payload.UserID,
		Scopes:    payload.Scopes,
		ExpiresIn: time.Duration(payload.ExpiresIn) * time.Second,
	}, nil
}
