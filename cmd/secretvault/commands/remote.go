package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/pkg/client"
)

// Environment variables read by the admin client commands.
const (
	EnvServer = "SECRETVAULT_SERVER"
	EnvToken  = "SECRETVAULT_TOKEN"
)

const (
	keyringService = "secretvault"
	defaultServer  = "http://localhost:8080"
)

// DefaultServer is the server URL used when --server is not given.
func DefaultServer() string {
	if v := os.Getenv(EnvServer); v != "" {
		return v
	}
	return defaultServer
}

// Remote holds the connection settings shared by the admin client commands.
type Remote struct {
	Server string
	Token  string
	Logger *logging.Logger
}

// token resolves the bearer token: --token, then SECRETVAULT_TOKEN, then the
// keyring entry stored by 'secretvault login' for this server.
func (r *Remote) token() (string, error) {
	if r.Token != "" {
		return r.Token, nil
	}
	if v := os.Getenv(EnvToken); v != "" {
		return v, nil
	}

	tok, err := keyring.Get(keyringService, r.Server)
	switch {
	case err == nil:
		r.Logger.Debug("Using token from keyring for %s", r.Server)
		return tok, nil
	case errors.Is(err, keyring.ErrNotFound):
		return "", verrors.UserError{
			Message:    "No token available for " + r.Server,
			Suggestion: "Run 'secretvault login --server " + r.Server + "', set " + EnvToken + ", or pass --token",
		}
	default:
		return "", verrors.UserError{
			Message:    "Failed to read token from the OS keyring",
			Details:    err.Error(),
			Suggestion: "Set " + EnvToken + " or pass --token on headless machines",
			Err:        err,
		}
	}
}

func (r *Remote) client() (*client.Client, error) {
	tok, err := r.token()
	if err != nil {
		return nil, err
	}
	return client.New(r.Server, tok), nil
}

// userFacing converts API errors into UserErrors with a suggestion.
func userFacing(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return verrors.ClientError(apiErr.StatusCode, apiErr.Message)
	}
	return err
}

// readSecret returns value if set, otherwise the first line of in. Secrets
// are read from stdin so they stay out of shell history.
func readSecret(in io.Reader, value, what string) (string, error) {
	if value != "" {
		return value, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s from stdin: %w", what, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", verrors.UserError{
			Message:    what + " is required",
			Suggestion: "Pipe the value on stdin, e.g. 'printf %s \"$VALUE\" | secretvault ...'",
		}
	}
	return line, nil
}
