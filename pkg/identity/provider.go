package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ProviderClient fetches profile attributes from the upstream identity
// provider, authenticated with client credentials. It is best-effort: the
// resolver tolerates its absence and its failures.
type ProviderClient struct {
	baseURL string
	client  *http.Client
}

func NewProviderClient(baseURL, tokenURL, clientID, clientSecret string) *ProviderClient {
	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	client := conf.Client(context.Background())
	client.Timeout = 10 * time.Second

	return &ProviderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type ProviderProfile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (c *ProviderClient) FetchProfile(ctx context.Context, key string) (ProviderProfile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/profiles/%s", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProviderProfile{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ProviderProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProviderProfile{}, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var profile ProviderProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return ProviderProfile{}, err
	}
	return profile, nil
}
