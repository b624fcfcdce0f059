// Package cluster reports node-level resource capacity for the execution
// cluster. It is best-effort metadata for the health surface; failures
// degrade to an absent report, never to an error for the caller.
package cluster

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ameen-91/exray/internal/platform/env"
)

type Config struct {
	// APIURL of the Kubernetes API server. Empty disables cluster metadata.
	APIURL string

	// BearerTokenFile and CAFile follow the serviceaccount mount layout;
	// both optional outside the cluster.
	BearerTokenFile       string
	CAFile                string
	InsecureSkipTLSVerify bool
	Timeout               time.Duration
}

func ConfigFromEnv() (Config, error) {
	insecure, err := env.Bool("EXRAY_K8S_INSECURE_SKIP_TLS_VERIFY", false)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("EXRAY_K8S_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIURL:                env.String("EXRAY_K8S_API_URL", ""),
		BearerTokenFile:       env.String("EXRAY_K8S_TOKEN_FILE", "/var/run/secrets/kubernetes.io/serviceaccount/token"),
		CAFile:                env.String("EXRAY_K8S_CA_FILE", "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"),
		InsecureSkipTLSVerify: insecure,
		Timeout:               timeout,
	}, nil
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
}

// NewClient builds the client, or returns (nil, nil) when no API URL is
// configured; a nil client reports no cluster info.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.InsecureSkipTLSVerify {
		tlsCfg.InsecureSkipVerify = true //nolint:gosec
	} else if cfg.CAFile != "" {
		if caBytes, err := os.ReadFile(cfg.CAFile); err == nil {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caBytes) {
				return nil, errors.New("invalid cluster ca bundle")
			}
			tlsCfg.RootCAs = pool
		}
	}

	token := ""
	if cfg.BearerTokenFile != "" {
		if raw, err := os.ReadFile(cfg.BearerTokenFile); err == nil {
			token = strings.TrimSpace(string(raw))
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
			Timeout:   timeout,
		},
	}, nil
}

type nodeList struct {
	Items []node `json:"items"`
}

type node struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Status struct {
		Capacity    map[string]string `json:"capacity"`
		Allocatable map[string]string `json:"allocatable"`
		Conditions  []struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		} `json:"conditions"`
		NodeInfo struct {
			KubeletVersion string `json:"kubeletVersion"`
		} `json:"nodeInfo"`
	} `json:"status"`
}

func (c *Client) listNodes(ctx context.Context) (nodeList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/nodes", nil)
	if err != nil {
		return nodeList{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nodeList{}, fmt.Errorf("list nodes: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nodeList{}, fmt.Errorf("read node list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nodeList{}, fmt.Errorf("list nodes: unexpected status %d", resp.StatusCode)
	}

	var list nodeList
	if err := json.Unmarshal(body, &list); err != nil {
		return nodeList{}, fmt.Errorf("decode node list: %w", err)
	}
	return list, nil
}
