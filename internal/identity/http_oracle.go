package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/honeykyc/gateway/internal/retry"
)

// HTTPOracle queries a remote subscriber directory at GET {base}/owners/{mobile}.
// A 404 means the number is unlisted.
type HTTPOracle struct {
	base   string
	client *http.Client
	policy retry.Policy
}

// NewHTTPOracle creates an oracle client for baseURL.
func NewHTTPOracle(baseURL string, client *http.Client) *HTTPOracle {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPOracle{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		policy: retry.DefaultPolicy,
	}
}

// Lookup implements Oracle. 5xx and transport errors are retried; other
// statuses are not.
func (o *HTTPOracle) Lookup(ctx context.Context, mobile string) (*Owner, error) {
	endpoint := o.base + "/owners/" + url.PathEscape(mobile)

	var owner *Owner
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			owner = &Owner{Name: UnknownOwner}
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("telecom oracle: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("telecom oracle: status %d", resp.StatusCode))
		}

		var out Owner
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("telecom oracle: decode: %w", err))
		}
		if out.Name == "" {
			out.Name = UnknownOwner
		}
		owner = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owner, nil
}
