package rpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

type echoParams struct {
	Text string `json:"text"`
}

func startServer(t *testing.T) string {
	t.Helper()
	s := NewServer(time.Second)
	s.Register("Echo.Upper", func(ctx context.Context, req json.RawMessage) (any, error) {
		var p echoParams
		if err := json.Unmarshal(req, &p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "text is required")
		}
		return echoParams{Text: p.Text + "!"}, nil
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
	assert.Equal(t, 1, s.MethodCount())
	return ln.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	var out echoParams
	require.NoError(t, c.Call(ctx, "Echo.Upper", echoParams{Text: "hi"}, &out))
	assert.Equal(t, "hi!", out.Text)
}

func TestCallMapsErrors(t *testing.T) {
	addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Call(ctx, "Echo.Upper", echoParams{}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = c.Call(ctx, "Echo.Missing", echoParams{Text: "x"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "unknown method")
}
