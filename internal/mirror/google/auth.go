package google

import (
	"context"
	"fmt"
	"os"

	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// serviceAccountOption loads a service-account key file and returns a client
// option authorised for scopes.
func serviceAccountOption(ctx context.Context, file string, scopes ...string) (option.ClientOption, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := oauthgoogle.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", file, err)
	}
	return option.WithCredentials(creds), nil
}
