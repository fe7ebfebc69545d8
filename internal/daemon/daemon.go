//go:build linux

// Package daemon owns the raw listening socket, the epoll-driven single
// threaded event loop, and the per-connection fd plumbing that the engine
// is deliberately kept ignorant of.
package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/programble/torus/internal/config"
	"github.com/programble/torus/internal/engine"
	"github.com/programble/torus/internal/protocol"
	"github.com/programble/torus/internal/registry"
	"github.com/programble/torus/internal/store"
	"github.com/programble/torus/internal/torus"
)

// sendBufSize is sized for two back-to-back tile payloads so that the
// common write path never blocks on a non-blocking socket.
const sendBufSize = 2 * protocol.TileSize

// Server is the single-threaded, readiness-driven torus daemon.
type Server struct {
	cfg      config.Config
	dims     torus.Dims
	store    *store.Store
	registry *registry.Registry
	engine   *engine.Engine

	listenFD int
	epFD     int
	wakeFD   int

	stopCh       chan struct{}
	loopDone     chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the tile store and wires the engine; it does not bind a socket
// yet (see Listen).
func New(cfg config.Config) (*Server, error) {
	dims := torus.Dims{TileRows: cfg.TileRows, TileCols: cfg.TileCols}
	st, err := store.Open(cfg.DataPath, dims, cfg.AllowNocore)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	s := &Server{
		cfg: cfg, dims: dims, store: st, registry: reg,
		listenFD: -1, epFD: -1, wakeFD: -1,
		stopCh: make(chan struct{}),
	}
	s.engine = engine.New(st, reg, dims, s)
	return s, nil
}

// Listen binds the Unix socket, sets up epoll, writes the pidfile, and
// ignores SIGPIPE. Run then installs the SIGTERM/SIGINT handler and drives
// the event loop.
func (s *Server) Listen() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("daemon: remove stale socket: %w", err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("daemon: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: s.cfg.SocketPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("daemon: bind %s: %w", s.cfg.SocketPath, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("daemon: listen: %w", err)
	}
	s.listenFD = fd

	epFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("daemon: epoll_create1: %w", err)
	}
	s.epFD = epFD

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("daemon: eventfd: %w", err)
	}
	s.wakeFD = wakeFD

	if err := s.epollAdd(s.listenFD); err != nil {
		return fmt.Errorf("daemon: epoll add listener: %w", err)
	}
	if err := s.epollAdd(s.wakeFD); err != nil {
		return fmt.Errorf("daemon: epoll add wake fd: %w", err)
	}

	if err := s.writePID(); err != nil {
		return err
	}

	// SIGPIPE is suppressed globally: writes to a half-closed peer surface
	// as EPIPE return values only, never a process-terminating signal.
	signal.Ignore(syscall.SIGPIPE)

	slog.Info("daemon listening", "socket", s.cfg.SocketPath, "data", s.cfg.DataPath)
	return nil
}

// Run installs a signal handler goroutine and blocks in the epoll loop
// until Shutdown wakes it. Both goroutines are supervised by an errgroup
// so that either a loop error or a handled signal ends Run cleanly.
func (s *Server) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	s.loopDone = make(chan struct{})

	group := new(errgroup.Group)
	group.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			return s.Shutdown()
		case <-s.stopCh:
			return nil
		case <-s.loopDone:
			return nil
		}
	})
	group.Go(func() error {
		defer close(s.loopDone)
		return s.loop()
	})

	return group.Wait()
}

func (s *Server) epollAdd(fd int) error {
	return unix.EpollCtl(s.epFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	})
}

func (s *Server) epollDel(fd int) {
	unix.EpollCtl(s.epFD, unix.EPOLL_CTL_DEL, fd, nil)
}

// loop is the single-threaded readiness-driven multiplexor. All engine
// calls happen on this one goroutine; there is no synchronisation inside
// engine/registry/store because nothing else touches them.
func (s *Server) loop() error {
	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(s.epFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("daemon: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case s.wakeFD:
				var drain [8]byte
				unix.Read(s.wakeFD, drain[:])
				return nil
			case s.listenFD:
				s.acceptLoop()
			default:
				s.handleReadable(fd)
			}
		}
	}
}

// acceptLoop drains the listening socket's backlog. The listener is
// non-blocking, so EAGAIN simply means there is nothing left to accept
// this wakeup.
func (s *Server) acceptLoop() {
	for {
		fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			slog.Error("accept failed", "err", err)
			return
		}

		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufSize); err != nil {
			slog.Warn("setsockopt SO_SNDBUF failed", "err", err)
		}
		if err := s.epollAdd(fd); err != nil {
			slog.Warn("epoll add client failed", "err", err)
			unix.Close(fd)
			continue
		}

		c := s.registry.Add(fd, torus.VoidTileX, torus.VoidTileY, 0xFF, 0xFF)
		s.removeFailed(s.engine.Spawn(c))
	}
}

// handleReadable services one readiness event on a client socket: a single
// read of exactly one frame's worth of bytes, dispatched to the matching
// engine operation: a single recv of exactly one frame's size at a time.
func (s *Server) handleReadable(fd int) {
	c, ok := s.registry.ByFD(fd)
	if !ok {
		return
	}

	buf := make([]byte, protocol.ClientFrameSize())
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		s.disconnect(c)
		return
	}
	if n == 0 {
		// EOF: routine client disconnect.
		s.disconnect(c)
		return
	}
	if n != len(buf) {
		// Short read: per-client failure, removed locally.
		s.disconnect(c)
		return
	}

	frame, ok := protocol.DecodeClientFrame(buf)
	if !ok {
		s.disconnect(c)
		return
	}

	switch frame.Tag {
	case protocol.ClientMove:
		dx, dy := frame.MoveDelta()
		s.removeFailed(s.engine.Move(c, dx, dy))
	case protocol.ClientFlip:
		s.removeFailed(s.engine.Flip(c))
	case protocol.ClientPut:
		color, cell := frame.PutArgs()
		s.removeFailed(s.engine.Put(c, color, cell))
	case protocol.ClientMap:
		s.removeFailed(s.engine.Map(c))
	case protocol.ClientTele:
		failed, err := s.engine.Teleport(c, frame.TelePort())
		if err != nil {
			s.disconnect(c)
			return
		}
		s.removeFailed(failed)
	default:
		// Invalid discriminant: per-client failure.
		s.disconnect(c)
	}
}

// disconnect runs the engine's own departure bookkeeping, then closes the
// fd that the engine has no business touching.
func (s *Server) disconnect(c *registry.Client) {
	fd := c.FD
	s.removeFailed(s.engine.Disconnect(c))
	s.epollDel(fd)
	unix.Close(fd)
}

// removeFailed tears down the fd side of every client the engine already
// evicted from the registry during an operation.
func (s *Server) removeFailed(failed engine.Failed) {
	for _, c := range failed {
		s.epollDel(c.FD)
		unix.Close(c.FD)
	}
}

// SendFrame, SendTile, and SendMap implement engine.Sender over a raw,
// non-blocking client fd.
func (s *Server) SendFrame(c *registry.Client, f protocol.ServerFrame) error {
	return writeFull(c.FD, protocol.EncodeServerFrame(f))
}

func (s *Server) SendTile(c *registry.Client, t protocol.Tile) error {
	if err := s.SendFrame(c, protocol.TileFrame()); err != nil {
		return err
	}
	return writeFull(c.FD, t)
}

func (s *Server) SendMap(c *registry.Client, p protocol.MapPayload) error {
	if err := s.SendFrame(c, protocol.MapHeaderFrame()); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := protocol.NewConn(&buf).WriteMapPayload(p); err != nil {
		return err
	}
	return writeFull(c.FD, buf.Bytes())
}

// writeFull issues unix.Write until every byte of buf is accepted. The
// send buffer is sized so this should never block in practice (sendBufSize);
// an EAGAIN here means the peer is not draining its socket and is treated
// as a dead client, matching the spec's "deliberately fragile" bulk
// transfer.
func writeFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (s *Server) writePID() error {
	return os.WriteFile(s.cfg.PIDPath, fmt.Appendf(nil, "%d", os.Getpid()), 0o600)
}

// Shutdown tears down the listener, epoll fd, tile store, and pidfile
// exactly once, aggregating every failure rather than stopping at the
// first.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	defer close(s.stopCh)
	var result *multierror.Error

	if s.wakeFD >= 0 {
		var one [8]byte
		one[0] = 1
		if _, err := unix.Write(s.wakeFD, one[:]); err != nil {
			result = multierror.Append(result, fmt.Errorf("daemon: wake event loop: %w", err))
		}
		// Wait for the loop goroutine to actually stop touching epFD/wakeFD
		// before closing them out from under it, if the loop was started.
		// A timeout bounds this in case the loop is wedged, so shutdown
		// still reclaims the fds rather than hanging indefinitely.
		if s.loopDone != nil {
			select {
			case <-s.loopDone:
			case <-time.After(time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second):
				result = multierror.Append(result, errors.New("daemon: event loop did not stop within shutdown grace period"))
			}
		}
	}
	if s.listenFD >= 0 {
		if err := unix.Close(s.listenFD); err != nil {
			result = multierror.Append(result, fmt.Errorf("daemon: close listener: %w", err))
		}
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, fmt.Errorf("daemon: remove socket: %w", err))
	}
	if err := os.Remove(s.cfg.PIDPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, fmt.Errorf("daemon: remove pidfile: %w", err))
	}
	if err := s.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if s.epFD >= 0 {
		if err := unix.Close(s.epFD); err != nil {
			result = multierror.Append(result, fmt.Errorf("daemon: close epoll fd: %w", err))
		}
	}
	if s.wakeFD >= 0 {
		if err := unix.Close(s.wakeFD); err != nil {
			result = multierror.Append(result, fmt.Errorf("daemon: close wake fd: %w", err))
		}
	}

	slog.Info("daemon shut down")
	return result.ErrorOrNil()
}
