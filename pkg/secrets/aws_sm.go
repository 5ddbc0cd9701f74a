package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// secretsManagerAPI is the part of the Secrets Manager client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	secretsmanager.ListSecretsAPIClient
}

// SecretsManager reads relayer credentials from AWS Secrets Manager.
type SecretsManager struct {
	api secretsManagerAPI
}

// NewSecretsManager uses the default AWS credential chain for region.
func NewSecretsManager(ctx context.Context, region string) (*SecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManager{api: secretsmanager.NewFromConfig(cfg)}, nil
}

func (p *SecretsManager) RelayerCredentials(ctx context.Context, name SecretName) (RelayerCredentials, error) {
	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name.String()),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return RelayerCredentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return RelayerCredentials{}, fmt.Errorf("fetch secret %s: %w", name, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return RelayerCredentials{}, fmt.Errorf("secret %s is empty", name)
	}
	creds, err := DecodeRelayerCredentials(payload)
	if err != nil {
		return RelayerCredentials{}, fmt.Errorf("secret %s: %w", name, err)
	}
	return creds, nil
}

func (p *SecretsManager) SecretNames(ctx context.Context, env, venue string) ([]SecretName, error) {
	prefix := strings.ToLower(env) + "/"
	venue = strings.ToLower(venue)

	paginator := secretsmanager.NewListSecretsPaginator(p.api, &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{prefix},
		}},
		MaxResults: aws.Int32(100),
	})

	var names []SecretName
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list secrets under %s: %w", prefix, err)
		}
		for _, entry := range page.SecretList {
			n, ok := ParseSecretName(aws.ToString(entry.Name))
			if !ok || n.Env+"/" != prefix || n.Venue != venue {
				continue
			}
			names = append(names, n)
		}
	}
	return names, nil
}
