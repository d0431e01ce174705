// Package transport provides raw byte sources for trace capture. A source
// is anything the capture pipeline can pull wire bytes from; the probe or
// bridge behind a TCP address is of no concern here.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
)

// Source is a stream of raw trace bytes.
type Source interface {
	io.ReadCloser
}

// Dial connects to a TCP byte source such as an RTT bridge. The context
// bounds connection establishment only, not subsequent reads.
func Dial(ctx context.Context, addr string) (Source, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

// Open returns a source reading a previously captured file.
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return f, nil
}
