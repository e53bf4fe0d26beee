package manifest

import (
	"context"
	"fmt"
	"net/http"

	"dashprobe/internal/httputil"
)

// Source fetches MPD documents for catalog media keys.
type Source struct {
	client   *http.Client
	template string
}

// NewSource creates a Source. template is an HTTPS URL containing {mediaKey}.
func NewSource(client *http.Client, template string) *Source {
	return &Source{client: client, template: template}
}

// URLFor returns the manifest URL for a media key.
func (s *Source) URLFor(mediaKey string) (string, error) {
	u, err := httputil.ExpandTemplate(s.template, map[string]string{"mediaKey": mediaKey})
	if err != nil {
		return "", fmt.Errorf("manifest URL: %w", err)
	}
	return u, nil
}

// Fetch downloads the manifest text at manifestURL.
func (s *Source) Fetch(ctx context.Context, manifestURL string) ([]byte, error) {
	body, err := httputil.Get(ctx, s.client, manifestURL, "application/dash+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	return body, nil
}
