// Command client is a minimal line-transport client: it relays stdin to the
// server and prints whatever the server sends.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/Tyrowin/roomchat/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "line transport address")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "warn", Pretty: true}, os.Stderr)

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("failed to connect")
	}
	defer func() { _ = conn.Close() }()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if _, err := fmt.Fprintln(conn, scanner.Text()); err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn().Err(err).Msg("error reading stdin")
		}
		// Half-close so the server sees EOF but can still say goodbye.
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		}
	}()

	if _, err := io.Copy(os.Stdout, conn); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error().Err(err).Msg("connection failed")
	}
	fmt.Fprintln(os.Stderr, "⚠️ Connection lost!")
}
