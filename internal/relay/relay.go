package relay

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Client forwards raw submission bodies to the ingestion listener. Delivery
// is best effort: there is no acknowledgement and no retry.
type Client struct {
	addr   string
	dialer net.Dialer
}

func New(addr string) (*Client, error) {
	if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
		return nil, errors.Wrapf(err, "invalid relay address %q", addr)
	}
	return &Client{addr: addr}, nil
}

func (c *Client) Addr() string {
	return c.addr
}

// Send writes body as a single datagram on a short-lived socket.
func (c *Client) Send(ctx context.Context, body []byte) error {
	conn, err := c.dialer.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.addr)
	}
	defer conn.Close()
	if _, err := conn.Write(body); err != nil {
		return errors.Wrapf(err, "send to %s", c.addr)
	}
	return nil
}
