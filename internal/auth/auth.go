// Package auth provides token providers for the live feed connection.
//
// Providers are read on every connection attempt, so a rotated token file or
// environment variable is picked up on the next reconnect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rickgao/livefeed/internal/connection"
)

// ErrNoToken is returned when a required token source is empty.
var ErrNoToken = errors.New("no token available")

// Static returns a provider that always yields token.
func Static(token string) connection.TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Env returns a provider that reads the environment variable name on every call.
func Env(name string) connection.TokenProvider {
	return func(context.Context) (string, error) {
		token := strings.TrimSpace(os.Getenv(name))
		if token == "" {
			return "", fmt.Errorf("%w: $%s is empty", ErrNoToken, name)
		}
		return token, nil
	}
}

// File returns a provider that reads a token file on every call.
// Surrounding whitespace is trimmed; an empty file is an error.
func File(path string) connection.TokenProvider {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}

		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrNoToken, path)
		}
		return token, nil
	}
}

// Select picks a provider from config values: file, then env, then a static
// token. It returns nil when all are empty, which connects without credentials.
func Select(token, file, env string) connection.TokenProvider {
	switch {
	case file != "":
		return File(file)
	case env != "":
		return Env(env)
	case token != "":
		return Static(token)
	default:
		return nil
	}
}
