package wc

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PacketConn wraps a datagram socket and counts what it receives.
type PacketConn struct {
	conn      net.PacketConn
	closed    uint32
	created   time.Time
	packet_in uint64
	byte_in   uint64
	logger    zerolog.Logger
}

func NewWrappedPacketConn(conn net.PacketConn, logger zerolog.Logger) *PacketConn {
	o := &PacketConn{conn: conn}
	o.created = time.Now()
	o.logger = logger.With().Str("module", "wconn").Logger()
	o.logger.Debug().Str("local_address", conn.LocalAddr().String()).Msg("socket bound")
	return o
}

func (c *PacketConn) ReadFrom(buf []byte) (int, net.Addr, error) {
	n, addr, err := c.conn.ReadFrom(buf)
	if n > 0 || err == nil {
		atomic.AddUint64(&c.packet_in, 1)
		atomic.AddUint64(&c.byte_in, uint64(n))
	}
	return n, addr, err
}

func (c *PacketConn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	err := c.conn.Close()
	packets, bytes := c.Stat()
	c.logger.Debug().Uint64("packet_in", packets).Uint64("byte_in", bytes).Dur("uptime", time.Since(c.Created())).Msg("socket closed")
	return err
}

func (c *PacketConn) Stat() (packet_in uint64, byte_in uint64) {
	return atomic.LoadUint64(&c.packet_in), atomic.LoadUint64(&c.byte_in)
}

func (c *PacketConn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *PacketConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *PacketConn) Created() time.Time {
	return c.created
}
