// Upstream is a raw TCP HTTP server used as a fixture behind the proxy. Each
// response body echoes the request path and a fresh request id.
//
// Usage:
//
//	go run ./scripts/upstream -port 9000
//	go run ./scripts/upstream -port 9000 -no-length
//
// With -no-length the response carries no Content-Length and the connection is
// closed right after the body, so the proxy has to frame it by EOF.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/angeloszaimis/forward-proxy/internal/message"
	"github.com/angeloszaimis/forward-proxy/pkg/logger"
)

func main() {
	port := flag.Int("port", 9000, "port to listen on")
	noLength := flag.Bool("no-length", false, "omit Content-Length and close after the body")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*level, false, "dev")

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(*port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("listen failed", slog.String("address", addr), slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("starting upstream", slog.String("address", addr), slog.Bool("no_length", *noLength))

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("accept failed", slog.Any("err", err))
			continue
		}
		go serve(conn, *noLength, log)
	}
}

func serve(conn net.Conn, noLength bool, log *slog.Logger) {
	defer conn.Close()

	buf := make([]byte, 32*1024)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}

	req := message.Parse(buf[:n])
	id := uuid.NewString()
	log.Info("request",
		slog.String("id", id),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("from", conn.RemoteAddr().String()))

	body := []byte(fmt.Sprintf("%s %s", req.Path, id))

	headers := message.NewHeaders(
		message.Header{Name: "Content-Type", Value: "text/plain"},
		message.Header{Name: "X-Request-Id", Value: id},
	)
	if !noLength {
		headers = headers.With("Content-Length", strconv.Itoa(len(body)))
	}

	if _, err := conn.Write(message.Serialize("HTTP/1.1 200 OK", headers, body)); err != nil {
		log.Warn("write failed", slog.String("id", id), slog.Any("err", err))
		return
	}

	if !noLength {
		// The proxy half-closes once it has the declared length.
		io.Copy(io.Discard, conn)
	}
}
