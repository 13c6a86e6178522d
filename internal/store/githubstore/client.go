package githubstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/issueforge/internal/config"
)

// NewClient creates an authenticated GitHub client. A non-empty baseURL
// targets GitHub Enterprise.
func NewClient(ctx context.Context, token config.Secret, baseURL string) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = 60 * time.Second

	client := github.NewClient(hc)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("GitHub base URL: %w", err)
		}
	}
	return client, nil
}
