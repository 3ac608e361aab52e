package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/s0up4200/exactonline/tokenstore"
)

var (
	authState string
	authCode  string
)

// authCmd groups the OAuth2 commands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to Exact Online",
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the authorization URL to open in a browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		state := authState
		if state == "" {
			var err error
			if state, err = randomState(); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), conn.AuthorizationURL(state))
		return nil
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange an authorization code for a token pair",
	Long: `Exchange the code Exact Online appended to the redirect URL for an
access and refresh token. The tokens are stored in the configured token store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn.SetAccessToken("")
		conn.SetRefreshToken("")
		conn.SetAuthorizationCode(authCode)

		if err := conn.Authorize(cmd.Context()); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		tok := conn.Token()
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Signed in, access token valid until %s\n", tok.Expiry.Local().Format(time.RFC1123))
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored token state",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := store.Load(cmd.Context())
		if errors.Is(err, tokenstore.ErrNoToken) {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if tok.Expired(time.Now(), 0) {
			fmt.Fprintf(out, "Access token expired at %s\n", tok.Expiry.Local().Format(time.RFC1123))
		} else {
			fmt.Fprintf(out, "Access token valid until %s\n", tok.Expiry.Local().Format(time.RFC1123))
		}
		fmt.Fprintf(out, "Refresh token: %s\n", boolToStatus(tok.RefreshToken != ""))
		return nil
	},
}

func init() {
	authURLCmd.Flags().StringVar(&authState, "state", "", "OAuth state value (default random)")
	authLoginCmd.Flags().StringVar(&authCode, "code", "", "authorization code from the redirect URL")
	cobra.CheckErr(authLoginCmd.MarkFlagRequired("code"))

	authCmd.AddCommand(authURLCmd, authLoginCmd, authStatusCmd)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func boolToStatus(b bool) string {
	if b {
		return "present"
	}
	return "missing"
}
