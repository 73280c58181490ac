// Package gyrfalcon is a client for the Atlas Explorer cloud APIs: the global
// API (API key validation, channel listing, gateway resolution) and the
// channel gateway (experiment creation and status).
//
// The API key is sent as the "apikey" request header on every call and is
// never logged.
package gyrfalcon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mips-tech/atlasexplorer/api"
	"github.com/mips-tech/atlasexplorer/internal/transfer"
	"github.com/mips-tech/atlasexplorer/pkg/version"
)

const (
	// DefaultGlobalAPI is the production global API endpoint.
	DefaultGlobalAPI = "https://gyrfalcon.api.mips.com"

	// maxResponseBodySize is the maximum allowed size for an API response
	// body. The APIs serve small JSON documents; anything larger is treated
	// as a protocol violation.
	maxResponseBodySize = 64 * 1024
)

// Downloader fetches the contents of a signed URL, retrying transient
// failures. Satisfied by transfer.Client.
type Downloader interface {
	Download(ctx context.Context, signedURL api.SignedURL) ([]byte, error)
}

// Client talks to the Atlas Explorer APIs. Credentials and endpoints are
// immutable for the lifetime of the client, so concurrent submissions with
// different credentials use separate clients.
type Client struct {
	httpClient *http.Client
	downloader Downloader
	globalAPI  string
	apiKey     string
	channel    string
	region     string
	gateway    string
	log        *logrus.Entry
}

// New creates a client for the global API at baseURL. The gateway for
// experiment creation must be resolved with ResolveGateway before the first
// submission.
func New(httpClient *http.Client, baseURL, apiKey, channel, region string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("cannot create gyrfalcon client: baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("cannot create gyrfalcon client: apiKey cannot be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}

	return &Client{
		httpClient: httpClient,
		downloader: transfer.New(transfer.Config{HTTPClient: httpClient}),
		globalAPI:  baseURL,
		apiKey:     apiKey,
		channel:    channel,
		region:     region,
		log:        logrus.WithField("component", "gyrfalcon"),
	}, nil
}

// SetDownloader replaces the transfer client used for signed-URL fetches, so
// a caller can apply its own retry configuration uniformly.
func (c *Client) SetDownloader(d Downloader) {
	c.downloader = d
}

// ValidateAPIKey checks the configured API key against the global API.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	res, err := c.get(ctx, c.globalAPI, "/validateapikey", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if code := res.StatusCode; code < 200 || code >= 300 {
		return fmt.Errorf("api key rejected: %s", statusErrorBody(res))
	}
	return nil
}

// channelListResponse is the wire form of the channel list. Older gateways
// encode the region list of each channel as a JSON-encoded string rather
// than an array, so regions are decoded leniently.
type channelListResponse struct {
	Channels []struct {
		Name    string          `json:"name"`
		Regions json.RawMessage `json:"regions"`
	} `json:"channels"`
}

// ChannelList returns the channels available to the configured API key.
func (c *Client) ChannelList(ctx context.Context) ([]api.Channel, error) {
	res, err := c.get(ctx, c.globalAPI, "/channellist", map[string]string{
		"extversion": version.AtlasExplorerVersion,
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if code := res.StatusCode; code < 200 || code >= 300 {
		return nil, fmt.Errorf("failed to list channels: %s", statusErrorBody(res))
	}

	var decoded channelListResponse
	if err := decodeBody(res.Body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse channel list: %w", err)
	}

	channels := make([]api.Channel, 0, len(decoded.Channels))
	for _, ch := range decoded.Channels {
		regions, err := decodeRegions(ch.Regions)
		if err != nil {
			return nil, fmt.Errorf("failed to parse regions for channel %q: %w", ch.Name, err)
		}
		channels = append(channels, api.Channel{Name: ch.Name, Regions: regions})
	}
	return channels, nil
}

func decodeRegions(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var regions []string
	if err := json.Unmarshal(raw, &regions); err == nil {
		return regions, nil
	}

	// Legacy form: a string holding a JSON array.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("regions are neither an array nor a string")
	}
	if err := json.Unmarshal([]byte(encoded), &regions); err != nil {
		return nil, fmt.Errorf("string-encoded regions are not a JSON array: %w", err)
	}
	return regions, nil
}

// ResolveGateway resolves the channel/region specific gateway endpoint from
// the global API. It must be called before CreateExperiment.
func (c *Client) ResolveGateway(ctx context.Context) error {
	res, err := c.get(ctx, c.globalAPI, "/gwbychannelregion", map[string]string{
		"channel": c.channel,
		"region":  c.region,
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if code := res.StatusCode; code < 200 || code >= 300 {
		return fmt.Errorf("failed to resolve gateway: %s", statusErrorBody(res))
	}

	decoded := struct {
		Endpoint string `json:"endpoint"`
	}{}
	if err := decodeBody(res.Body, &decoded); err != nil {
		return fmt.Errorf("failed to parse gateway response: %w", err)
	}
	if decoded.Endpoint == "" {
		return fmt.Errorf("global API returned an empty gateway endpoint")
	}

	c.gateway = decoded.Endpoint
	c.log.WithField("channel", c.channel).WithField("region", c.region).Debug("gateway resolved")
	return nil
}

// Gateway returns the resolved gateway endpoint, or "" if ResolveGateway has
// not been called.
func (c *Client) Gateway() string {
	return c.gateway
}

// createExperimentResponse is the signed URL bundle issued by the gateway.
type createExperimentResponse struct {
	ConfigURL   string    `json:"cfgurl"`
	WorkloadURL string    `json:"elfurl"`
	StatusURL   string    `json:"statusget"`
	ResultURL   string    `json:"resulturl"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreateExperiment registers a new experiment with the gateway and returns
// the signed URLs for uploading the configuration and workload package,
// polling status, and downloading the encrypted result.
func (c *Client) CreateExperiment(ctx context.Context, req api.CreateExperimentRequest) (*api.ExperimentURLs, error) {
	if c.gateway == "" {
		return nil, fmt.Errorf("gateway not resolved; call ResolveGateway first")
	}
	if req.ExperimentID == "" {
		return nil, fmt.Errorf("experiment ID cannot be empty")
	}

	endpoint, err := url.JoinPath(c.gateway, "/createsignedurls")
	if err != nil {
		return nil, err
	}

	body := struct {
		ResultPublicKey string `json:"result_public_key"`
	}{ResultPublicKey: req.ResultPublicKeyPEM}

	encodedBody := &bytes.Buffer{}
	if err := json.NewEncoder(encodedBody).Encode(body); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, encodedBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("channel", c.channel)
	httpReq.Header.Set("exp-uuid", req.ExperimentID)
	httpReq.Header.Set("workload", req.Workload)
	httpReq.Header.Set("core", req.Core)
	httpReq.Header.Set("action", "experiment")
	version.SetUserAgent(httpReq)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if code := res.StatusCode; code < 200 || code >= 300 {
		return nil, fmt.Errorf("failed to create experiment: %s", statusErrorBody(res))
	}

	var decoded createExperimentResponse
	if err := decodeBody(res.Body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse create experiment response: %w", err)
	}
	if decoded.ConfigURL == "" || decoded.WorkloadURL == "" || decoded.StatusURL == "" || decoded.ResultURL == "" {
		return nil, fmt.Errorf("gateway returned an incomplete signed URL bundle")
	}

	return &api.ExperimentURLs{
		Config:   api.SignedURL{URL: decoded.ConfigURL, Method: http.MethodPut, ExpiresAt: decoded.ExpiresAt},
		Workload: api.SignedURL{URL: decoded.WorkloadURL, Method: http.MethodPut, ExpiresAt: decoded.ExpiresAt},
		Status:   api.SignedURL{URL: decoded.StatusURL, Method: http.MethodGet, ExpiresAt: decoded.ExpiresAt},
		Result:   api.SignedURL{URL: decoded.ResultURL, Method: http.MethodGet, ExpiresAt: decoded.ExpiresAt},
	}, nil
}

// JobStatus fetches and decodes one status document from the experiment's
// signed status URL. The URL is already signed, so no API key is attached.
// The fetch goes through the transfer layer, which absorbs transient network
// and 5xx failures within this one poll attempt.
func (c *Client) JobStatus(ctx context.Context, statusURL api.SignedURL) (*api.StatusResponse, error) {
	body, err := c.downloader.Download(ctx, statusURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch experiment status: %w", err)
	}

	var decoded api.StatusResponse
	if err := decodeBody(bytes.NewReader(body), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &decoded, nil
}

// get performs a GET against the given base URL with the API key header and
// any extra headers attached.
func (c *Client) get(ctx context.Context, baseURL, path string, headers map[string]string) (*http.Response, error) {
	endpoint, err := url.JoinPath(baseURL, path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	version.SetUserAgent(req)

	return c.httpClient.Do(req)
}

func decodeBody(body io.Reader, out any) error {
	if err := json.NewDecoder(io.LimitReader(body, maxResponseBodySize)).Decode(out); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("rejecting JSON response from server as it was too large or was truncated")
		}
		return err
	}
	return nil
}

func statusErrorBody(res *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 500))
	if len(body) == 0 {
		body = []byte(`<empty body>`)
	}
	return fmt.Sprintf("received response with status code %d: %s", res.StatusCode, bytes.TrimSpace(body))
}
