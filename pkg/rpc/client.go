package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

// Client is a JSON-over-TCP RPC client. Calls are serialised over a single
// connection.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
	nextID  int64
}

// Dial connects to an RPC server at the given address.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

// Call invokes method with params and decodes the response into result.
// Server-side errors are mapped back onto the shared sentinel errors so
// callers can use errors.Is.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	c.nextID++
	req := Request{
		Method: method,
		ID:     strconv.FormatInt(c.nextID, 10),
		Params: raw,
	}
	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s: %w", resp.Error, sentinelFor(resp.Code))
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

func sentinelFor(code string) error {
	switch code {
	case CodeInvalidInput:
		return apperrors.ErrInvalidInput
	case CodeUnavailable:
		return apperrors.ErrIndexUnavailable
	case CodeNotFound:
		return apperrors.ErrDocumentNotFound
	case CodeTimeout:
		return apperrors.ErrTimeout
	default:
		return apperrors.ErrInternal
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
