package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	secretmanager "google.golang.org/api/secretmanager/v1"
)

// SecretsAdapter reads secrets from Google Secret Manager, always at the
// latest version. Values are cached per process lifetime by callers if
// needed; this adapter does not cache.
type SecretsAdapter struct {
	svc *secretmanager.Service
}

func NewSecretsAdapter(ctx context.Context) (*SecretsAdapter, error) {
	svc, err := secretmanager.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("secretmanager init: %w", err)
	}
	return &SecretsAdapter{svc: svc}, nil
}

func (a *SecretsAdapter) GetSecret(ctx context.Context, projectID, name string) (string, error) {
	fullName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
	resp, err := a.svc.Projects.Secrets.Versions.Access(fullName).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("accessing secret %s: %w", name, err)
	}
	if resp.Payload == nil {
		return "", fmt.Errorf("secret %s has no payload", name)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("decoding secret %s: %w", name, err)
	}
	return string(data), nil
}
