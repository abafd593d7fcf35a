package allowlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type restRow struct {
	MacAddress string `json:"mac_address"`
	IsActive   *bool  `json:"is_active"`
}

// RESTSource reads the device table through a bearer-authenticated GET
// that returns a JSON array of {mac_address, is_active} rows.
type RESTSource struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewRESTSource(url, token string) *RESTSource {
	return &RESTSource{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

func (r *RESTSource) Fetch(ctx context.Context) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build allowlist request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch allowlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch allowlist: status %d: %s", resp.StatusCode, body)
	}

	var rows []restRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode allowlist: %w", err)
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, Row{Identifier: row.MacAddress, Active: row.IsActive})
	}
	return out, nil
}

var _ Source = (*RESTSource)(nil)
