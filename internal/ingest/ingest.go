package ingest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"nuha.dev/formrelay/internal/record"
	"nuha.dev/formrelay/internal/store"
	"nuha.dev/formrelay/internal/util/wc"
)

const (
	// KeyLayout is the ingestion timestamp used as the store key.
	KeyLayout = "2006-01-02 15:04:05.000000"

	KeyOverwrite string = "overwrite"
	KeySuffix    string = "suffix"

	DefaultBufferSize = 65507
)

const (
	DATAGRAM_RECEIVED  string = "datagram_received"
	MALFORMED_DATAGRAM string = "malformed_datagram"
	STORE_ERROR        string = "store_error"
	RECORD_STORED      string = "record_stored"
)

type ServerConfig struct {
	ListenAddr string
	BufferSize int
	// KeyPolicy decides what happens when two datagrams get the same
	// timestamp key: KeyOverwrite keeps the later one, KeySuffix numbers it.
	KeyPolicy string
}

// Server receives relayed submissions and appends them to the store one at
// a time, so the store never sees concurrent writers.
type Server struct {
	mu     sync.Mutex
	log    zerolog.Logger
	config *ServerConfig
	store  store.Store
	conn   *wc.PacketConn
	keys   keyer
	now    func() time.Time
}

func NewServer(st store.Store, logger zerolog.Logger, config *ServerConfig) *Server {
	s := &Server{}
	s.log = logger.With().Str("module", "ingest").Logger()
	s.config = config
	if s.config.BufferSize <= 0 {
		s.config.BufferSize = DefaultBufferSize
	}
	s.store = st
	s.keys = keyer{policy: config.KeyPolicy}
	s.now = time.Now
	return s
}

// Listen binds the datagram socket.
func (s *Server) Listen() error {
	pc, err := net.ListenPacket("udp", s.config.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "ingest listen on %s", s.config.ListenAddr)
	}
	s.mu.Lock()
	s.conn = wc.NewWrappedPacketConn(pc, s.log)
	s.mu.Unlock()
	return nil
}

// Close releases the socket of a listener that will not be run.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run processes datagrams until ctx is cancelled. The datagram being handled
// when ctx ends is finished before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		conn = s.conn
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	s.log.Info().Msgf("starting ingest listener on %s", conn.LocalAddr())
	// one spare byte tells a datagram that filled the buffer exactly apart
	// from one the kernel truncated
	buf := make([]byte, s.config.BufferSize+1)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				packets, bytes := conn.Stat()
				s.log.Info().Uint64("packet_in", packets).Uint64("byte_in", bytes).Dur("uptime", time.Since(conn.Created())).Msg("ingest listener stopped")
				return nil
			}
			s.log.Error().Err(err).Msg("failed to receive datagram")
			return errors.Wrap(err, "ingest receive")
		}
		if n > s.config.BufferSize {
			s.log.Warn().Str("event", MALFORMED_DATAGRAM).Stringer("from", from).Int("limit", s.config.BufferSize).Msg("dropping oversized datagram")
			continue
		}
		s.handle(buf[:n], from)
	}
}

func (s *Server) handle(payload []byte, from net.Addr) {
	s.log.Debug().Str("event", DATAGRAM_RECEIVED).Stringer("from", from).Int("size", len(payload)).Msg("")
	rec, err := record.Decode(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", MALFORMED_DATAGRAM).Stringer("from", from).Msg("dropping datagram")
		return
	}
	key := s.keys.next(s.now())
	if err := s.store.Append(key, rec); err != nil {
		s.log.Error().Err(err).Str("event", STORE_ERROR).Str("key", key).Msg("dropping record")
		return
	}
	s.log.Info().Str("event", RECORD_STORED).Str("key", key).Int("fields", len(rec)).Msg("")
}

type keyer struct {
	policy string
	last   string
	seq    int
}

func (k *keyer) next(t time.Time) string {
	key := t.Format(KeyLayout)
	if k.policy != KeySuffix {
		return key
	}
	if key != k.last {
		k.last = key
		k.seq = 1
		return key
	}
	k.seq++
	return fmt.Sprintf("%s #%d", key, k.seq)
}
