package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client issues RPC calls to a running daemon.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the daemon socket. A missing or stale socket fails fast.
func Dial(socket string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socket, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

func invoke[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	resp := new(Resp)
	if err := c.rpc.Call(ServiceName+"."+method, req, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

// Start asks the daemon to resume job processing.
func (c *Client) Start() (*StartResponse, error) {
	return invoke[StartRequest, StartResponse](c, "Start", StartRequest{})
}

// Stop asks the daemon to pause job processing. The process keeps running.
func (c *Client) Stop() (*StopResponse, error) {
	return invoke[StopRequest, StopResponse](c, "Stop", StopRequest{})
}

func (c *Client) Status() (*StatusResponse, error) {
	return invoke[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

func (c *Client) CacheStats() (*CacheStatsResponse, error) {
	return invoke[CacheStatsRequest, CacheStatsResponse](c, "CacheStats", CacheStatsRequest{})
}

// ClearCache drops every cached vision response.
func (c *Client) ClearCache() (*ClearCacheResponse, error) {
	return invoke[ClearCacheRequest, ClearCacheResponse](c, "ClearCache", ClearCacheRequest{})
}
