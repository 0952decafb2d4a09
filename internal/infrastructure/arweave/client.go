package arweave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studio-gateway/internal/core/ports"
	"studio-gateway/internal/domain"
)

// Client uploads evidence to an Arweave bundler gateway and queries bundle
// status. Every failure here is operational: the gateway never interprets
// stored content, and the storage network gives no verdicts, only
// availability.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type uploadRequest struct {
	Data []byte            `json:"data"`
	Tags map[string]string `json:"tags,omitempty"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

func (c *Client) Upload(ctx context.Context, data []byte, tags map[string]string) (string, error) {
	body, err := json.Marshal(uploadRequest{Data: data, Tags: tags})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.Operational(domain.CodeUnavailable, "upload evidence", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", domain.Operational(domain.CodeUnavailable,
			fmt.Sprintf("bundler returned %d on upload", resp.StatusCode), nil)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.Operational(domain.CodeUnavailable, "decode upload response", err)
	}
	if out.ID == "" {
		return "", domain.Operational(domain.CodeUnavailable, "bundler returned empty transaction id", nil)
	}
	return out.ID, nil
}

func (c *Client) GetStatus(ctx context.Context, storageID string) (ports.StorageStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tx/"+storageID+"/status", nil)
	if err != nil {
		return ports.StorageNotFound, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.StorageNotFound, domain.Operational(domain.CodeUnavailable, "query storage status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.StorageNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ports.StorageNotFound, domain.Operational(domain.CodeUnavailable,
			fmt.Sprintf("bundler returned %d on status", resp.StatusCode), nil)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.StorageNotFound, domain.Operational(domain.CodeUnavailable, "decode status response", err)
	}

	switch out.Status {
	case "confirmed":
		return ports.StorageConfirmed, nil
	default:
		return ports.StoragePending, nil
	}
}

func (c *Client) IsConfirmed(ctx context.Context, storageID string) (bool, error) {
	status, err := c.GetStatus(ctx, storageID)
	if err != nil {
		return false, err
	}
	return status == ports.StorageConfirmed, nil
}

func (c *Client) Retrieve(ctx context.Context, storageID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+storageID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.Operational(domain.CodeUnavailable, "retrieve evidence", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Operational(domain.CodeUnavailable,
			fmt.Sprintf("bundler returned %d on retrieve", resp.StatusCode), nil)
	}
	return io.ReadAll(resp.Body)
}
