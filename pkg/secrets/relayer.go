package secrets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Checker-Finance/darkpool-adapter/pkg/utils"
)

// RelayerCredentials is the relayer API key pair stored per client as
// {"api_key": "<uuid>", "api_secret": "<base64 hmac key>"}.
type RelayerCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (c RelayerCredentials) String() string {
	return "RelayerCredentials{api_key=" + utils.MaskKey(c.APIKey) + "}"
}

func (c RelayerCredentials) GoString() string { return c.String() }

// DecodeRelayerCredentials parses a secret payload and checks that the key
// is present and the secret is base64.
func DecodeRelayerCredentials(payload []byte) (RelayerCredentials, error) {
	var creds RelayerCredentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return RelayerCredentials{}, fmt.Errorf("secret is not a relayer key pair: %w", err)
	}
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	creds.APISecret = strings.TrimSpace(creds.APISecret)
	if creds.APIKey == "" {
		return RelayerCredentials{}, fmt.Errorf("secret missing api_key")
	}
	if creds.APISecret == "" {
		return RelayerCredentials{}, fmt.Errorf("secret missing api_secret")
	}
	if _, err := base64.StdEncoding.DecodeString(creds.APISecret); err != nil {
		if _, rawErr := base64.RawStdEncoding.DecodeString(creds.APISecret); rawErr != nil {
			return RelayerCredentials{}, fmt.Errorf("api_secret is not base64: %w", err)
		}
	}
	return creds, nil
}
