package exchange

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Request dials addr, sends payload and collects response lines until the
// server closes the connection. maxLines > 0 stops reading early.
func Request(ctx context.Context, addr string, payload []byte, maxLines int) ([]string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("exchange: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("exchange: write request: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
		if maxLines > 0 && len(lines) >= maxLines {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return lines, ctx.Err()
		}
		return lines, fmt.Errorf("exchange: read response: %w", err)
	}
	return lines, nil
}
