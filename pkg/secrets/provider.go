package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound is returned when no credential secret exists under a name.
var ErrSecretNotFound = errors.New("secret not found")

// Provider reads relayer credential secrets.
type Provider interface {
	RelayerCredentials(ctx context.Context, name SecretName) (RelayerCredentials, error)
	// SecretNames lists the credential secrets stored for env and venue.
	SecretNames(ctx context.Context, env, venue string) ([]SecretName, error)
}

// SecretName addresses one client's relayer key pair as {env}/{client}/{venue}.
// All parts are compared lower case.
type SecretName struct {
	Env      string
	ClientID string
	Venue    string
}

func NewSecretName(env, clientID, venue string) SecretName {
	return SecretName{
		Env:      strings.ToLower(strings.TrimSpace(env)),
		ClientID: strings.ToLower(strings.TrimSpace(clientID)),
		Venue:    strings.ToLower(strings.TrimSpace(venue)),
	}
}

func (n SecretName) String() string {
	return fmt.Sprintf("%s/%s/%s", n.Env, n.ClientID, n.Venue)
}

// ParseSecretName splits a stored secret name. Names with a nested client
// path or an empty part are rejected.
func ParseSecretName(s string) (SecretName, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return SecretName{}, false
	}
	n := NewSecretName(parts[0], parts[1], parts[2])
	if n.Env == "" || n.ClientID == "" || n.Venue == "" {
		return SecretName{}, false
	}
	return n, true
}
