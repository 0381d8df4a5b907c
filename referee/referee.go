// Package referee implements the external advisory arbiter consulted by
// a two-node cluster when the clique degenerates to self alone: it
// awards a grant to at most one node per epoch, and the winning
// decision is sticky across restarts until both nodes are simultaneously
// online again.
package referee

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client requests and surrenders grants against a referee server.
type Client struct {
	baseURL string
	nodeID  int
	http    *http.Client
}

// NewClient builds a Client against the referee at baseURL (the
// referee_connstring configuration value).
func NewClient(baseURL string, nodeID int) *Client {
	return &Client{
		baseURL: baseURL,
		nodeID:  nodeID,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type grantResponse struct {
	NodeID  int    `json:"node_id"`
	Epoch   uint64 `json:"epoch"`
	Granted bool   `json:"granted"`
}

// RequestGrant asks the referee to award node for epoch. It returns true
// only if this node holds the grant afterward; while another node holds
// a standing grant, whatever its epoch, it keeps it and this call
// returns false.
func (c *Client) RequestGrant(epoch uint64) (bool, error) {
	url := fmt.Sprintf("%s/grant?node=%d&epoch=%d", c.baseURL, c.nodeID, epoch)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return false, fmt.Errorf("referee: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("referee: request grant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("referee: unexpected status %d", resp.StatusCode)
	}

	var out grantResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("referee: decode response: %w", err)
	}
	return out.Granted && out.NodeID == c.nodeID, nil
}

// CurrentGrant returns the node id currently holding the grant for
// epoch, or 0 if no decision has been made.
func (c *Client) CurrentGrant(epoch uint64) (int, error) {
	url := fmt.Sprintf("%s/grant?epoch=%d", c.baseURL, epoch)
	resp, err := c.http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("referee: query grant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("referee: unexpected status %d", resp.StatusCode)
	}

	var out grantResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("referee: decode response: %w", err)
	}
	return out.NodeID, nil
}

// Surrender checks this node in with the referee as reachable again. The
// referee clears any persisted decision once two different nodes have
// checked in (by grant request or surrender) since the last clear; it
// does not check whether the caller holds the grant.
func (c *Client) Surrender() error {
	url := fmt.Sprintf("%s/grant?node=%d", c.baseURL, c.nodeID)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("referee: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("referee: surrender: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("referee: unexpected status %d", resp.StatusCode)
	}
	return nil
}
