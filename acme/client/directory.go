package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

func (c *Client) getDirectory(ctx context.Context) (map[string]any, error) {
	url := c.DirectoryURL.String()

	resp, err := c.net.GetURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch directory: %w", err)
	}
	if resp.Response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch directory: server returned status code %d, expected %d",
			resp.Response.StatusCode, http.StatusOK)
	}

	var directory map[string]any
	if err := json.Unmarshal(resp.RespBody, &directory); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}

	return directory, nil
}

// UpdateDirectory updates the Client's cached directory used when referencing
// the endpoints for updating nonces, creating accounts, and creating orders.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.1
func (c *Client) UpdateDirectory(ctx context.Context) error {
	newDir, err := c.getDirectory(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.directory = newDir
	c.mu.Unlock()
	c.log.Debug("Updated directory")
	return nil
}

// GetEndpointURL gets a URL for a specific ACME endpoint from the cached
// directory. If the key is found its value is returned along with a true bool.
// If the key is not found an empty string is returned with a false bool.
func (c *Client) GetEndpointURL(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rawURL, ok := c.directory[name]
	if !ok {
		return "", false
	}
	switch v := rawURL.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	}
	return "", false
}
