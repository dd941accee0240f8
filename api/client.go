package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/luca-patrignani/greetme/identity"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/vmihailenco/msgpack/v5"
)

// Client talks to a greetme API server.
type Client struct {
	baseURL  string
	http     *http.Client
	dialer   *websocket.Dialer
	encoding string
}

type ClientOption func(*Client)

// WithTLSConfig is used for both HTTP requests and the websocket feed, e.g.
// to trust the server's self-signed certificate.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) {
		c.http = &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
		c.dialer = &websocket.Dialer{TLSClientConfig: cfg, HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithFeedEncoding selects the frame encoding of Follow.
func WithFeedEncoding(encoding string) ClientOption {
	return func(c *Client) { c.encoding = encoding }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit signs text with kp under a fresh nonce and submits it.
func (c *Client) Submit(ctx context.Context, kp *identity.KeyPair, text string) (ledger.Receipt, error) {
	pub, err := kp.PublicKey()
	if err != nil {
		return ledger.Receipt{}, err
	}
	nonce := uuid.NewString()
	sig, err := kp.Sign(identity.SubmitMessage(text, nonce))
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to sign greeting: %w", err)
	}
	req := SubmitRequest{
		Text:      text,
		Nonce:     nonce,
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(sig),
	}
	var receipt ledger.Receipt
	err = c.do(ctx, http.MethodPost, "/greetings", req, &receipt)
	return receipt, err
}

// Greetings fetches a page. Past the end it returns an error matching
// ledger.ErrNoMoreRecords.
func (c *Client) Greetings(ctx context.Context, page, size int) (ledger.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var p ledger.Page
	err := c.do(ctx, http.MethodGet, "/greetings?"+q.Encode(), nil, &p)
	return p, err
}

func (c *Client) Count(ctx context.Context) (int, error) {
	var resp CountResponse
	err := c.do(ctx, http.MethodGet, "/greetings/count", nil, &resp)
	return resp.Total, err
}

func (c *Client) Greeting(ctx context.Context, id uint64) (ledger.Greeting, error) {
	var g ledger.Greeting
	err := c.do(ctx, http.MethodGet, "/greetings/"+strconv.FormatUint(id, 10), nil, &g)
	return g, err
}

func (c *Client) ByAuthor(ctx context.Context, address string) ([]ledger.Greeting, error) {
	var resp AuthorResponse
	err := c.do(ctx, http.MethodGet, "/authors/"+url.PathEscape(address)+"/greetings", nil, &resp)
	return resp.Greetings, err
}

func (c *Client) Status(ctx context.Context) (ledger.Status, error) {
	var st ledger.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) Payouts(ctx context.Context) ([]ledger.Payout, error) {
	var payouts []ledger.Payout
	err := c.do(ctx, http.MethodGet, "/payouts", nil, &payouts)
	return payouts, err
}

func (c *Client) Verify(ctx context.Context) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(ctx, http.MethodGet, "/verify", nil, &resp)
	return resp, err
}

// Follow calls fn for every event of the live feed until ctx is done, the
// server closes the feed or fn returns an error.
func (c *Client) Follow(ctx context.Context, fn func(ledger.Event) error) error {
	u, err := url.Parse(c.baseURL + basePath + "/feed")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.encoding != "" {
		u.RawQuery = url.Values{"encoding": {c.encoding}}.Encode()
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to feed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("feed read failure: %w", err)
		}
		var ev ledger.Event
		if kind == websocket.BinaryMessage {
			err = msgpack.Unmarshal(data, &ev)
		} else {
			err = json.Unmarshal(data, &ev)
		}
		if err != nil {
			return fmt.Errorf("malformed feed event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+basePath+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
