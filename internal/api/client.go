package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/httputil"
)

// Client queries a running shape server.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a client for the server at baseURL. A nil hc uses
// http.DefaultClient.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Categories lists the categories of the remote database.
func (c *Client) Categories(ctx context.Context) ([]catalog.CategoryCount, error) {
	var out []catalog.CategoryCount
	err := c.do(ctx, http.MethodGet, "/api/categories", nil, &out)
	return out, err
}

// Similar ranks the remote database against one of its shapes.
func (c *Client) Similar(ctx context.Context, id string, k int) (*QueryResponse, error) {
	category, filename, ok := strings.Cut(id, "/")
	if !ok {
		return nil, fmt.Errorf("shape id %q is not <category>/<filename>", id)
	}
	path := "/api/shapes/" + url.PathEscape(category) + "/" + url.PathEscape(filename) + "/similar" + kQuery(k)
	var out QueryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query uploads an OBJ stream and ranks the remote database against it.
func (c *Client) Query(ctx context.Context, obj io.Reader, k int) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/query"+kQuery(k), obj, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func kQuery(k int) string {
	if k <= 0 {
		return ""
	}
	return "?k=" + strconv.Itoa(k)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
