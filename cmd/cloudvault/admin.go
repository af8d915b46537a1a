package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/signedurl"
)

const (
	secretByteLength   = 32
	healthCheckTimeout = 5 * time.Second
)

// adminCmd creates the admin command.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
		Long:  `Administrative commands for operating a CloudVault gateway.`,
	}

	cmd.AddCommand(statusCmd())
	cmd.AddCommand(tokenCmd())
	cmd.AddCommand(secretCmd())

	return cmd
}

// statusCmd queries a running gateway's health endpoint.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return fmt.Errorf("failed to get addr flag: %w", err)
			}

			client := &http.Client{Timeout: healthCheckTimeout}

			resp, err := client.Get(addr + "/health")
			if err != nil {
				return fmt.Errorf("gateway unreachable: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			var status struct {
				Status        string  `json:"status"`
				ProtocolReady bool    `json:"protocol_ready"`
				Uptime        float64 `json:"uptime"`
			}

			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("failed to decode health response: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "CloudVault Gateway Status")
			_, _ = fmt.Fprintln(out, "=========================")
			_, _ = fmt.Fprintf(out, "Version (CLI): %s\n", Version)
			_, _ = fmt.Fprintf(out, "Status:        %s\n", status.Status)
			_, _ = fmt.Fprintf(out, "Protocol:      ready=%t\n", status.ProtocolReady)
			_, _ = fmt.Fprintf(out, "Uptime:        %s\n", (time.Duration(status.Uptime) * time.Second).String())

			return nil
		},
	}

	cmd.Flags().String("addr", "http://localhost:8080", "Gateway base URL")

	return cmd
}

// tokenCmd manages signed download tokens.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage signed download tokens",
	}

	cmd.AddCommand(tokenSignCmd())

	return cmd
}

// tokenSignParams holds parameters for token minting.
type tokenSignParams struct {
	fileID      string
	messageID   int64
	contentType string
	fileName    string
	ttl         time.Duration
}

func parseTokenSignParams(cmd *cobra.Command, args []string) (*tokenSignParams, error) {
	messageID, err := cmd.Flags().GetInt64("message-id")
	if err != nil {
		return nil, fmt.Errorf("failed to get message-id flag: %w", err)
	}

	contentType, err := cmd.Flags().GetString("content-type")
	if err != nil {
		return nil, fmt.Errorf("failed to get content-type flag: %w", err)
	}

	fileName, err := cmd.Flags().GetString("file-name")
	if err != nil {
		return nil, fmt.Errorf("failed to get file-name flag: %w", err)
	}

	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return nil, fmt.Errorf("failed to get ttl flag: %w", err)
	}

	return &tokenSignParams{
		fileID:      args[0],
		messageID:   messageID,
		contentType: contentType,
		fileName:    fileName,
		ttl:         ttl,
	}, nil
}

// mintDownloadToken signs a download token offline with the shared secret.
// The signed URL is valid for any gateway instance holding the same secret.
func mintDownloadToken(params *tokenSignParams) (string, time.Time, error) {
	secret := os.Getenv("CLOUDVAULT_SIGNING_SECRET")
	if secret == "" {
		return "", time.Time{}, fmt.Errorf("CLOUDVAULT_SIGNING_SECRET environment variable is not set")
	}

	codec := signedurl.NewCodec(secret, signedurl.WithTTL(params.ttl))

	expiresAt := time.Now().Add(params.ttl)

	token, err := codec.Sign(signedurl.Payload{
		RemoteFileID: params.fileID,
		MessageID:    params.messageID,
		ContentType:  params.contentType,
		FileName:     params.fileName,
		ExpiresAt:    expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return token, expiresAt, nil
}

func tokenSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [file-id]",
		Short: "Mint a signed download URL for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseTokenSignParams(cmd, args)
			if err != nil {
				return err
			}

			token, expiresAt, err := mintDownloadToken(params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Token:   %s\n", token)
			_, _ = fmt.Fprintf(out, "URL:     /download/%s?sig=%s\n", url.PathEscape(params.fileID), url.QueryEscape(token))
			_, _ = fmt.Fprintf(out, "Expires: %s\n", expiresAt.Format(time.RFC3339))

			return nil
		},
	}

	cmd.Flags().Int64("message-id", 0, "Relay message ID backing the file")
	cmd.Flags().String("content-type", "application/octet-stream", "Content type served on download")
	cmd.Flags().String("file-name", "file", "File name served on download")
	cmd.Flags().DurationP("ttl", "t", signedurl.DefaultTTL, "Token lifetime (e.g. 15m, 24h)")

	return cmd
}

// secretCmd generates credentials.
func secretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate gateway credentials",
	}

	cmd.AddCommand(secretGenerateCmd())

	return cmd
}

func secretGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key and signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey, err := randomSecret()
			if err != nil {
				return err
			}

			signingSecret, err := randomSecret()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "CLOUDVAULT_API_KEY=%s\n", apiKey)
			_, _ = fmt.Fprintf(out, "CLOUDVAULT_SIGNING_SECRET=%s\n", signingSecret)

			return nil
		},
	}
}

func randomSecret() (string, error) {
	bytes := make([]byte, secretByteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
