package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/yarvil/yarv"
)

// Client calls a remote TranslatorService.
type Client struct {
	translate *connect.Client[TranslateRequest, TranslateResponse]
	counters  *connect.Client[CountersRequest, CountersResponse]
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:8090".
func NewClient(baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(newCBORCodec())}, opts...)
	return &Client{
		translate: connect.NewClient[TranslateRequest, TranslateResponse](
			http.DefaultClient, baseURL+TranslateProcedure, opts...),
		counters: connect.NewClient[CountersRequest, CountersResponse](
			http.DefaultClient, baseURL+CountersProcedure, opts...),
	}
}

// Translate sends req and returns the server's response.
func (c *Client) Translate(ctx context.Context, req *TranslateRequest) (*TranslateResponse, error) {
	resp, err := c.translate.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// TranslateIseq encodes iseq and translates it with default options.
func (c *Client) TranslateIseq(ctx context.Context, iseq *yarv.Iseq) (*TranslateResponse, error) {
	data, err := yarv.MarshalIseq(iseq)
	if err != nil {
		return nil, err
	}
	return c.Translate(ctx, &TranslateRequest{Iseq: data})
}

// Counters returns the server's accumulated counters, clearing them when
// reset is set.
func (c *Client) Counters(ctx context.Context, reset bool) (map[string]uint64, error) {
	resp, err := c.counters.CallUnary(ctx, connect.NewRequest(&CountersRequest{Reset: reset}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Counters, nil
}
