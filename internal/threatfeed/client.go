package threatfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL       = "https://safebrowsing.googleapis.com"
	defaultClientID      = "linkguard"
	defaultClientVersion = "dev"
	defaultTimeout       = 30 * time.Second

	maxResponseSize = 64 * 1024 * 1024 // 64 MB

	pathListUpdates = "/v4/threatListUpdates:fetch"
	pathFullHashes  = "/v4/fullHashes:find"
)

var errTruncated = errors.New("response exceeds maximum size")

// ClientConfig configures access to the remote list-update and full-hash
// endpoints.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	ClientID      string
	ClientVersion string
	Timeout       time.Duration
	// HTTPClient overrides the default client. Its Timeout is left as is.
	HTTPClient *http.Client
}

// Client speaks the JSON wire protocol of both endpoints. It holds no state
// besides its configuration and is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	info    clientInfo
	http    *http.Client
}

// NewClient creates a protocol client, filling unset fields with defaults.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	id := cfg.ClientID
	if id == "" {
		id = defaultClientID
	}
	version := cfg.ClientVersion
	if version == "" {
		version = defaultClientVersion
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		info:    clientInfo{ClientID: id, ClientVersion: version},
		http:    hc,
	}
}

type clientInfo struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

// threatListUpdates:fetch

type listUpdateRequest struct {
	Client             clientInfo        `json:"client"`
	ListUpdateRequests []listUpdateEntry `json:"listUpdateRequests"`
}

type listUpdateEntry struct {
	ThreatType      ThreatType        `json:"threatType"`
	PlatformType    string            `json:"platformType"`
	ThreatEntryType string            `json:"threatEntryType"`
	State           string            `json:"state"`
	Constraints     updateConstraints `json:"constraints"`
}

type updateConstraints struct {
	MaxUpdateEntries      int      `json:"maxUpdateEntries"`
	MaxDatabaseEntries    int      `json:"maxDatabaseEntries"`
	Region                string   `json:"region,omitempty"`
	SupportedCompressions []string `json:"supportedCompressions"`
}

type listUpdateResponse struct {
	ListUpdateResponses []listUpdate `json:"listUpdateResponses"`
	MinimumWaitDuration string       `json:"minimumWaitDuration,omitempty"`
}

type listUpdate struct {
	ThreatType     ThreatType       `json:"threatType"`
	ResponseType   string           `json:"responseType,omitempty"`
	NewClientState string           `json:"newClientState"`
	Checksum       *checksum        `json:"checksum,omitempty"`
	Additions      []threatEntrySet `json:"additions,omitempty"`
	Removals       []threatEntrySet `json:"removals,omitempty"`
}

type checksum struct {
	SHA256 string `json:"sha256"`
}

type threatEntrySet struct {
	CompressionType string      `json:"compressionType,omitempty"`
	RawHashes       *rawHashes  `json:"rawHashes,omitempty"`
	RawIndices      *rawIndices `json:"rawIndices,omitempty"`
}

type rawHashes struct {
	PrefixSize int    `json:"prefixSize"`
	RawHashes  string `json:"rawHashes"`
}

type rawIndices struct {
	Indices []int `json:"indices"`
}

// fullHashes:find

type findFullHashesRequest struct {
	Client       clientInfo `json:"client"`
	ClientStates []string   `json:"clientStates"`
	ThreatInfo   threatInfo `json:"threatInfo"`
}

type threatInfo struct {
	ThreatTypes      []ThreatType  `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type threatEntry struct {
	Hash string `json:"hash"`
}

type findFullHashesResponse struct {
	Matches []threatMatchEntry `json:"matches,omitempty"`
}

type threatMatchEntry struct {
	ThreatType ThreatType  `json:"threatType"`
	Threat     threatEntry `json:"threat"`
}

func (c *Client) fetchListUpdates(ctx context.Context, req listUpdateRequest) (*listUpdateResponse, error) {
	req.Client = c.info
	var resp listUpdateResponse
	if err := c.post(ctx, pathListUpdates, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) findFullHashes(ctx context.Context, req findFullHashesRequest) (*findFullHashesResponse, error) {
	req.Client = c.info
	var resp findFullHashesResponse
	if err := c.post(ctx, pathFullHashes, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends body as JSON to path and decodes the response into out.
// Transport failures map to *NetworkError, bad payloads to *DecodeError.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	op := strings.TrimPrefix(path, "/v4/")

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	endpoint := c.baseURL + path + "?key=" + url.QueryEscape(c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &NetworkError{Op: op, Err: redactKey(err, c.apiKey)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	// maxResponseSize+1 distinguishes "exactly at limit" from "truncated".
	lr := &io.LimitedReader{R: resp.Body, N: maxResponseSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if lr.N == 0 {
		return &DecodeError{Op: op, Err: errTruncated}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// redactKey keeps the API key out of *url.Error messages, which embed the
// full request URL.
func redactKey(err error, key string) error {
	var ue *url.Error
	if key == "" || !errors.As(err, &ue) {
		return err
	}
	return &url.Error{
		Op:  ue.Op,
		URL: strings.ReplaceAll(ue.URL, url.QueryEscape(key), "REDACTED"),
		Err: ue.Err,
	}
}
