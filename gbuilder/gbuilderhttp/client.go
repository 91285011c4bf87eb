package gbuilderhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/tv42/httpunix"
)

// unixLocation is the host name registered with httpunix
// when the client talks to a unix socket.
const unixLocation = "gbuilder"

type ClientConfig struct {
	// Base URL of the server, e.g. "http://127.0.0.1:9200".
	// Ignored if UnixSocket is set.
	BaseURL string

	// Path to a unix socket the server listens on.
	UnixSocket string

	// Optional HTTP client to use for TCP connections.
	// Not used when UnixSocket is set.
	HTTPClient *http.Client

	// Per-request timeout. Zero means no timeout beyond the request context.
	Timeout time.Duration
}

// Client is a [gbuilder.Builder] backed by a remote builder served by [NewHandler].
type Client struct {
	baseURL string
	hc      *http.Client
}

var _ gbuilder.Builder = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.UnixSocket != "" {
		t := &httpunix.Transport{
			DialTimeout:           time.Second,
			RequestTimeout:        cfg.Timeout,
			ResponseHeaderTimeout: cfg.Timeout,
		}
		t.RegisterLocation(unixLocation, cfg.UnixSocket)

		return &Client{
			baseURL: httpunix.Scheme + "://" + unixLocation,
			hc: &http.Client{
				Transport: t,
				Timeout:   cfg.Timeout,
			},
		}, nil
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("gbuilderhttp: one of BaseURL or UnixSocket must be set")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		hc:      hc,
	}, nil
}

func (c *Client) StartHeight(ctx context.Context, height uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/heights/"+strconv.FormatUint(height, 10)+"/start", nil, nil)
}

func (c *Client) BuildProposal(ctx context.Context, req gbuilder.BuildProposalRequest) error {
	br := buildRequest{
		ProposalID: req.ProposalID,
		Deadline:   req.Deadline,
	}
	if req.Retrospective != nil {
		h := req.Retrospective.Height
		br.RetrospectiveHeight = &h
		br.RetrospectiveHash = req.Retrospective.Hash
	}
	return c.do(ctx, http.MethodPost, "/v1/proposals/build", br, nil)
}

func (c *Client) GetProposalContent(ctx context.Context, id gbuilder.ProposalID) (gbuilder.ProposalContent, error) {
	var resp contentResponse
	if err := c.do(ctx, http.MethodGet, proposalPath(id, "content"), nil, &resp); err != nil {
		return gbuilder.ProposalContent{}, err
	}

	if resp.Finished {
		return gbuilder.ProposalContent{
			Finished: &gbuilder.ProposalCommitment{StateDiffCommitment: resp.Commitment},
		}, nil
	}
	return gbuilder.ProposalContent{Txs: resp.Txs}, nil
}

func (c *Client) ValidateProposal(ctx context.Context, req gbuilder.ValidateProposalRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/proposals/validate", validateRequest{
		ProposalID: req.ProposalID,
		Deadline:   req.Deadline,
	}, nil)
}

func (c *Client) SendProposalContent(
	ctx context.Context, id gbuilder.ProposalID, content gbuilder.SendContent,
) (gbuilder.ProposalStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodPost, proposalPath(id, "content"), sendContentRequest{
		Txs:    content.Txs,
		Finish: content.Finish,
	}, &resp); err != nil {
		return gbuilder.ProposalStatus{}, err
	}
	return statusFromWire(resp)
}

func (c *Client) DecisionReached(ctx context.Context, id gbuilder.ProposalID) error {
	return c.do(ctx, http.MethodPost, proposalPath(id, "decision"), nil, nil)
}

// AddTxs submits transactions to a builder whose server accepts them.
func (c *Client) AddTxs(ctx context.Context, txs ...[]byte) error {
	return c.do(ctx, http.MethodPost, "/v1/txs", addTxsRequest{Txs: txs}, nil)
}

func proposalPath(id gbuilder.ProposalID, suffix string) string {
	return "/v1/proposals/" + strconv.FormatUint(uint64(id), 10) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
			return &RemoteError{
				StatusCode: resp.StatusCode,
				Code:       codeInternal,
				Message:    "undecodable error body",
			}
		}
		return errorFromResponse(resp.StatusCode, er)
	}

	if respBody == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}
