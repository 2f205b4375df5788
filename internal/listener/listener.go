package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var (
	// ErrAddressInUse is wrapped by Bind when another socket owns the address.
	ErrAddressInUse = errors.New("address in use")

	errNotBound = errors.New("listener is not bound")
)

// acceptBackoff throttles the accept loop after an unexpected error.
const acceptBackoff = 10 * time.Millisecond

// Handler serves one accepted connection.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn) error
}

// Listener accepts client connections and runs a Handler on each of them
// concurrently.
type Listener struct {
	address string
	handler Handler
	logger  *slog.Logger

	mutex    sync.Mutex
	ln       net.Listener
	inFlight sync.WaitGroup
}

// New creates a Listener for address ("host:port"). The address is validated
// but not bound.
func New(address string, handler Handler, logger *slog.Logger) (*Listener, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}

	return &Listener{
		address: address,
		handler: handler,
		logger:  logger,
	}, nil
}

// Bind opens the TCP socket. An occupied address is logged on its own and
// reported as ErrAddressInUse.
func (l *Listener) Bind() error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			l.logger.Error("address in use", slog.String("address", l.address))
			return fmt.Errorf("bind %s: %w: %w", l.address, ErrAddressInUse, err)
		}
		l.logger.Error("bind failed",
			slog.String("address", l.address),
			slog.String("error", err.Error()))
		return fmt.Errorf("bind %s: %w", l.address, err)
	}

	l.mutex.Lock()
	l.ln = ln
	l.mutex.Unlock()

	l.logger.Info("listening", slog.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until Shutdown. It returns nil once the listener
// has been closed.
func (l *Listener) Serve(ctx context.Context) error {
	l.mutex.Lock()
	ln := l.ln
	l.mutex.Unlock()

	if ln == nil {
		return errNotBound
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error("accept failed", slog.String("error", err.Error()))
			time.Sleep(acceptBackoff)
			continue
		}

		l.inFlight.Add(1)
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.inFlight.Done()

	host, port, _ := net.SplitHostPort(conn.RemoteAddr().String())
	l.logger.Info("client connected",
		slog.String("address", host),
		slog.String("port", port))

	if err := l.handler.Handle(ctx, conn); err != nil {
		l.logger.Warn("relay aborted",
			slog.String("address", host),
			slog.String("port", port),
			slog.String("error", err.Error()))
	}

	l.logger.Info("client disconnected",
		slog.String("address", host),
		slog.String("port", port))
}

// Shutdown stops accepting and waits for in-flight relays until ctx is done.
// Relays are not interrupted.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mutex.Lock()
	ln := l.ln
	l.mutex.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		l.logger.Info("listener closed", slog.String("address", l.address))
	}

	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	// Port 0 asks the kernel for any free port.
	if port != "0" {
		if err := is.Port.Validate(port); err != nil {
			return validation.NewError("validation_invalid_port", "invalid port")
		}
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
