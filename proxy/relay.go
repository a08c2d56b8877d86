package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// relayChunkSize bounds a single relay read; the scanner sees chunks of
// at most this size.
const relayChunkSize = 8 * 1024

var normalErrMsgs []string = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"net/http: TLS handshake timeout",
	"io: read/write on closed pipe",
	"connect: connection refused",
	"connect: connection reset by peer",
	"use of closed network connection",
}

// Only print unexpected error messages.
func logErr(logger *slog.Logger, err error) {
	msg := err.Error()

	for _, str := range normalErrMsgs {
		if strings.Contains(msg, str) {
			logger.Debug("normal error", "error", err)
			return
		}
	}

	logger.Error("unexpected error", "error", err)
}

// relay pumps bytes between the two legs until EOF, error, the cleared
// running flag, or an idle timeout. scan, when non-nil, sees every chunk
// before it is forwarded verbatim; bytes within one direction are never
// reordered. Completion of either direction closes both legs.
func (p *Proxy) relay(logger *slog.Logger, server, client net.Conn, scan func([]byte)) {
	done := make(chan struct{})
	defer close(done)

	errChan := make(chan error)
	pump := func(dst, src net.Conn, direction string) {
		err := p.pump(dst, src, scan)
		logger.Debug("relay direction finished", "direction", direction, "error", err)
		client.Close()
		server.Close()
		select {
		case <-done:
			return
		case errChan <- err:
			return
		}
	}
	go pump(server, client, "client->server")
	go pump(client, server, "server->client")

	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			logErr(logger, err)
			return
		}
	}
}

// pump forwards bounded chunks from src to dst in receipt order, feeding
// each chunk to scan before writing it unchanged.
func (p *Proxy) pump(dst, src net.Conn, scan func([]byte)) error {
	buf := make([]byte, relayChunkSize)
	for p.session.Running() {
		if t := p.Opts.ConnTimeout; t > 0 {
			_ = src.SetReadDeadline(time.Now().Add(t))
			_ = dst.SetWriteDeadline(time.Now().Add(t))
		}
		n, err := src.Read(buf)
		if n > 0 {
			if scan != nil {
				scan(buf[:n])
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}
