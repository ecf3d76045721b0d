package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"twitch-chat-client/auth"
	"twitch-chat-client/tokens"
)

func main() {
	_ = godotenv.Load()

	var path string

	rootCmd := &cobra.Command{
		Use:   "twitch-auth",
		Short: "Manage the chat token used by chat-logger",
		Long: `Store and inspect the user OAuth token that chat-logger uses when
TWITCH_OAUTH_TOKEN is not set. Tokens are validated against id.twitch.tv
before they are written.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&path, "file", envOr("TOKEN_FILE", tokens.DefaultTokenFile), "token file path")

	rootCmd.AddCommand(
		saveCmd(&path),
		validateCmd(),
		showCmd(&path),
		forgetCmd(&path),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func saveCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "save <token>",
		Short: "Validate a token and write it to the token file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := tokens.NewChatTokenManager(tokens.FileTokenStore{Path: *path}, validate)
			tok, err := manager.Save(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok, saved token for %s, expires at %s\n", tok.Login, tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [token]",
		Short: "Check a token (defaults to TWITCH_OAUTH_TOKEN)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(os.Getenv("TWITCH_OAUTH_TOKEN"))
			if len(args) == 1 {
				token = args[0]
			}
			if token == "" {
				return fmt.Errorf("token is required")
			}
			v, err := auth.ValidateToken(cmd.Context(), token)
			if err != nil {
				return err
			}
			fmt.Printf("login:      %s\n", v.Login)
			fmt.Printf("user id:    %s\n", v.UserID)
			fmt.Printf("scopes:     %s\n", strings.Join(v.Scopes, " "))
			fmt.Printf("expires in: %s\n", v.ExpiresIn)
			if !v.HasScope("chat:read") {
				fmt.Println("warning: token lacks chat:read")
			}
			return nil
		},
	}
}

func showCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored token owner and expiry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := tokens.FileTokenStore{Path: *path}.LoadChatToken()
			if err != nil {
				return err
			}
			left := time.Until(tok.ExpiresAt).Round(time.Second)
			fmt.Printf("login: %s\nexpires at: %s (%s left)\n", tok.Login, tok.ExpiresAt.Format(time.RFC3339), left)
			return nil
		},
	}
}

func forgetCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Delete the token file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := tokens.FileTokenStore{Path: *path}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Printf("ok, removed %s\n", store.File())
			return nil
		},
	}
}

func validate(ctx context.Context, token string) (string, time.Duration, error) {
	v, err := auth.ValidateToken(ctx, token)
	return v.Login, v.ExpiresIn, err
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
