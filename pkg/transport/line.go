package transport

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// LineConn frames PDUs over a byte stream as one line of hex per PDU. Octets may be
// separated by spaces; blank lines and lines starting with '#' are skipped.
//
//	0a 03 00
type LineConn struct {
	r      *bufio.Reader
	w      io.Writer
	c      io.Closer
	remote net.Addr

	wmu sync.Mutex
}

// NewLineConn wraps rwc. remote names the peer in logs.
func NewLineConn(rwc io.ReadWriteCloser, remote net.Addr) *LineConn {
	return &LineConn{
		r:      bufio.NewReader(rwc),
		w:      rwc,
		c:      rwc,
		remote: remote,
	}
}

func (l *LineConn) Read(b []byte) (int, error) {
	for {
		line, err := l.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return 0, err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pkt, decodeErr := hex.DecodeString(strings.Join(strings.Fields(line), ""))
		if decodeErr != nil {
			return 0, fmt.Errorf("malformed line %q: %w", line, decodeErr)
		}
		return readPacket(b, pkt)
	}
}

func (l *LineConn) Write(b []byte) (int, error) {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	if _, err := fmt.Fprintf(l.w, "% x\n", b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (l *LineConn) Close() error {
	return l.c.Close()
}

func (l *LineConn) RemoteAddr() net.Addr { return l.remote }
