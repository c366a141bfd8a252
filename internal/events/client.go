package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultConnectTimeout bounds how long Dial waits for the handshake.
const DefaultConnectTimeout = 15 * time.Second

// Options configures the socket.io connection.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Client is a connected socket.io client.
type Client struct {
	io *socket.Socket
}

// Dial connects to the socket.io server at opts.URL and waits for the
// handshake. The client does not reconnect on its own.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	logger := ctxlog.FromContext(ctx).With("events", opts.URL)

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse events URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("events URL %q must be absolute", opts.URL)
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	so := socket.DefaultOptions()
	if u.Path != "" {
		so.SetPath(u.Path)
	}
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		so.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	so.SetTransports(types.NewSet(transports.WebSocket))
	so.SetReconnection(false)

	nsp := opts.Namespace
	if nsp == "" {
		nsp = "/"
	}

	connected := make(chan error, 1)
	manager := socket.NewManager(u.Scheme+"://"+u.Host, so)
	io := manager.Socket(nsp, so)
	signal := func(err error) {
		select {
		case connected <- err:
		default:
		}
	}
	io.Once(types.EventName("connect"), func(...any) {
		signal(nil)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", errs[0])
			}
		}
		signal(err)
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		logger.Debug("Connected to events server.", "sid", io.Id())
		return &Client{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// Emit sends one event.
func (c *Client) Emit(event string, args ...any) error {
	return c.io.Emit(event, args...)
}

// Close disconnects the client.
func (c *Client) Close() {
	c.io.Disconnect()
}
