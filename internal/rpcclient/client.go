// Package rpcclient provides a JSON-RPC 2.0 client for klingstake nodes.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-staking/internal/rpc"
	"github.com/Klingon-tech/klingnet-staking/pkg/crypto"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
	pool     atomic.Pointer[types.Hash] // cached from node_getInfo
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req, err := c.newRequest(method, params)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

// CallSigned invokes a mutating method signed by key. It fetches the
// account's nonce first and signs with the next one.
func (c *Client) CallSigned(method string, params interface{}, key *crypto.PrivateKey, result interface{}) error {
	pool, err := c.PoolHash()
	if err != nil {
		return err
	}
	nonce, err := c.Nonce(key.Address().String())
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	req, err := c.newRequest(method, params)
	if err != nil {
		return err
	}
	if err := rpc.SignRequest(req, pool, key, nonce+1); err != nil {
		return err
	}
	return c.do(req, result)
}

// PoolHash returns the hash of the pool the node serves. Signed requests
// are bound to it. The first call asks the node; later calls reuse it.
func (c *Client) PoolHash() (types.Hash, error) {
	if h := c.pool.Load(); h != nil {
		return *h, nil
	}
	info, err := c.NodeInfo()
	if err != nil {
		return types.Hash{}, fmt.Errorf("fetch pool hash: %w", err)
	}
	h, err := types.HexToHash(info.PoolHash)
	if err != nil {
		return types.Hash{}, fmt.Errorf("node pool hash: %w", err)
	}
	c.pool.Store(&h)
	return h, nil
}

func (c *Client) newRequest(method string, params interface{}) (*rpc.Request, error) {
	req := &rpc.Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID.Add(1),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

func (c *Client) do(req *rpc.Request, result interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http request: %s", resp.Status)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}
