package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/vocdoni/anonsignal/api"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = http.MethodGet
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = http.MethodPost

	errCodeNot200 = "API error"

	// DefaultRetries this enables Request() to handle the situation where the server connection fails
	DefaultRetries = 3
	// DefaultTimeout is the default timeout for the HTTP client. Greetings
	// wait for the ledger confirmation, so it is longer than a usual call.
	DefaultTimeout = 2 * time.Minute

	retryDelay = 500 * time.Millisecond
)

// HTTPclient is the relay API HTTP client.
type HTTPclient struct {
	c          *http.Client
	host       *url.URL
	retries    int
	adminToken string
}

// SubmissionHandle identifies a greeting confirmed by the relay.
type SubmissionHandle struct {
	ID     string
	Signal string
	TxRef  string
}

// New connects to the relay API host and returns the handle.
func New(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 16,
		DisableCompression:  false,
	}
	c := &HTTPclient{
		c:       &http.Client{Transport: tr, Timeout: DefaultTimeout},
		host:    hostURL,
		retries: DefaultRetries,
	}
	log.Debugw("http client created", "host", hostURL.String())
	if err := c.ping(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// SetHostAddr configures the host address of the API server.
func (c *HTTPclient) SetHostAddr(host *url.URL) error {
	c.host = host
	return c.ping(context.Background())
}

// SetRetries configures the number of retries for the HTTP client.
func (c *HTTPclient) SetRetries(n int) {
	c.retries = n
}

// SetTimeout configures the timeout for the HTTP client.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.c.Timeout = d
	if tr, ok := c.c.Transport.(*http.Transport); ok {
		tr.ResponseHeaderTimeout = d
	}
}

// SetAdminToken sets the bearer token sent to protected endpoints.
func (c *HTTPclient) SetAdminToken(token string) {
	c.adminToken = token
}

func (c *HTTPclient) ping(ctx context.Context) error {
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return nil
}

// Submit posts a greeting with its proof bundle and waits for the relay to
// confirm it. Rejections are returned as errors of the protocol taxonomy,
// so types.KindOf classifies them.
func (c *HTTPclient) Submit(ctx context.Context, bundle *types.ProofBundle, signal string) (*SubmissionHandle, error) {
	if bundle == nil {
		return nil, fmt.Errorf("missing proof bundle")
	}
	req := &api.GreetRequest{
		Greeting:       signal,
		NullifierHash:  bundle.PublicSignals.NullifierHash,
		SolidityProof:  bundle.Proof,
		MerkleTreeRoot: bundle.PublicSignals.Root,
	}
	data, status, err := c.Request(ctx, HTTPPOST, req, nil, api.GreetEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrLedgerUnavailable, err)
	}
	if status != http.StatusOK {
		return nil, responseError(status, data)
	}
	res := &api.GreetResponse{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("could not decode greet response: %w", err)
	}
	return &SubmissionHandle{ID: res.ID, Signal: res.Greeting, TxRef: res.TxRef}, nil
}

// Receipt returns the forwarding receipt of a greeting.
func (c *HTTPclient) Receipt(ctx context.Context, id string) (*api.GreetReceipt, error) {
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, api.GreetEndpoint, id)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, responseError(status, data)
	}
	receipt := &api.GreetReceipt{}
	if err := json.Unmarshal(data, receipt); err != nil {
		return nil, fmt.Errorf("could not decode receipt: %w", err)
	}
	return receipt, nil
}

// CensusRoot returns the current membership root of the relay.
func (c *HTTPclient) CensusRoot(ctx context.Context) (*api.CensusRoot, error) {
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, api.CensusRootEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, responseError(status, data)
	}
	root := &api.CensusRoot{}
	if err := json.Unmarshal(data, root); err != nil {
		return nil, fmt.Errorf("could not decode census root: %w", err)
	}
	return root, nil
}

// Commitments returns the published membership list.
func (c *HTTPclient) Commitments(ctx context.Context) (*api.CensusCommitments, error) {
	data, status, err := c.Request(ctx, HTTPGET, nil, nil, api.CensusCommitmentsEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, responseError(status, data)
	}
	list := &api.CensusCommitments{}
	if err := json.Unmarshal(data, list); err != nil {
		return nil, fmt.Errorf("could not decode commitments: %w", err)
	}
	if list.Version != uint64(len(list.Commitments)) {
		return nil, fmt.Errorf("inconsistent membership list: version %d, %d commitments",
			list.Version, len(list.Commitments))
	}
	return list, nil
}

// AddCommitments registers identity commitments and returns the new root.
func (c *HTTPclient) AddCommitments(ctx context.Context, commitments ...*types.BigInt) (*api.CensusRoot, error) {
	req := &api.CensusCommitments{Commitments: commitments}
	data, status, err := c.Request(ctx, HTTPPOST, req, nil, api.CensusCommitmentsEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, responseError(status, data)
	}
	root := &api.CensusRoot{}
	if err := json.Unmarshal(data, root); err != nil {
		return nil, fmt.Errorf("could not decode census root: %w", err)
	}
	return root, nil
}

// Request performs a `method` type raw request to the endpoint specified in urlPath parameter.
// Method is either GET or POST. If POST, a JSON struct should be attached.  Returns the response,
// the status code and an error.
//
// Supports query parameters via `params` slice. If the slice is not empty, it should contain pairs of strings;
// the first element of each pair is the key, and the second element is the value.
//
// Only failures before any response is received are retried.
func (c *HTTPclient) Request(ctx context.Context, method string, jsonBody any, params []string,
	urlPath ...string,
) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		body, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))

	// Expecting even-length slice: [key1, val1, key2, val2, ...]
	if len(params) > 0 {
		values := url.Values{}
		for i := 0; i < len(params)-1; i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	headers := http.Header{}
	if jsonBody != nil {
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept", "application/json")
	}
	if c.adminToken != "" {
		headers.Set("Authorization", "Bearer "+c.adminToken)
	}

	log.Debugw("http client request", "type", method, "url", u.String(), "bytes", len(body))

	var (
		resp *http.Response
		err  error
	)
	for i := 1; i <= max(c.retries, 1); i++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, rerr := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
		if rerr != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", rerr)
		}
		req.Header = headers.Clone()

		resp, err = c.c.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		log.Warnw("http request failed", "error", err.Error(), "attempt", i, "retries", c.retries)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("http request ultimately failed after retries: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close response body", "error", err.Error())
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// responseError decodes an API error answer once. Known codes are mapped to
// the protocol error they stand for, keeping the relay message as context.
func responseError(status int, data []byte) error {
	var apiErr api.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == 0 {
		return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, bytes.TrimSpace(data))
	}
	if sentinel := api.KindOfCode(apiErr.Code).Err(); sentinel != nil {
		if apiErr.Error == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w (%s)", sentinel, apiErr.Error)
	}
	return &APIError{Status: status, Code: apiErr.Code, Message: apiErr.Error}
}

// APIError is a relay error answer outside the protocol taxonomy.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %d: %s (code %d)", errCodeNot200, e.Status, e.Message, e.Code)
}

// IsNotFound reports whether err is a not found answer of the relay.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == api.ErrResourceNotFound.Code
}
