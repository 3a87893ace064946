package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/telecheck/platform/pkg/common/httpclient"
	"github.com/telecheck/platform/pkg/common/models"
)

// ErrBadInput marks a definitive rejection by the eligibility service.
// Callers must not retry it.
var ErrBadInput = errors.New("eligibility service rejected input")

// Client resolves postcodes against active disaster declarations. The remote
// service owns the declaration-to-LGA-to-postcode matching; this side treats
// it as one logical request/response call.
type Client interface {
	CheckPostcodes(ctx context.Context, postcodes []string) ([]models.PostcodeEligibility, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpclient.New(timeout),
	}
}

func (c *HTTPClient) CheckPostcodes(ctx context.Context, postcodes []string) ([]models.PostcodeEligibility, error) {
	payload, err := json.Marshal(models.EligibilityRequest{Postcodes: postcodes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal eligibility request: %w", err)
	}

	url := c.baseURL + "/api/v1/eligibility/check"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eligibility request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrBadInput, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eligibility service returned status %d", resp.StatusCode)
	}

	var decoded models.EligibilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode eligibility response: %w", err)
	}

	return decoded.Results, nil
}
