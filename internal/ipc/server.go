package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"kontext/internal/api"
	"kontext/internal/daemon"
	"kontext/internal/logging"
	"kontext/internal/logs"
)

// Server answers CLI control requests as JSON-RPC over a Unix domain socket.
type Server struct {
	path     string
	logger   *slog.Logger
	listener net.Listener
	handler  *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the control socket and registers the RPC surface. A stale
// socket file from a previous run is removed first; the daemon's file lock
// guarantees no live instance still owns it.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server needs a daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind control socket: %w", err)
	}

	svc := &service{
		daemon: d,
		logger: logging.NewComponentLogger(logger, "ipc"),
		ctx:    ctx,
	}
	handler := rpc.NewServer()
	if err := handler.RegisterName(serviceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register ipc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		logger:   logger,
		listener: listener,
		handler:  handler,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("control socket listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logging.WarnWithContext(s.logger, "control socket accept failed", "control_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
				logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	s.handler.ServeCodec(jsonrpc.NewServerCodec(conn))
}

// Close stops accepting, waits out in-flight requests, and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "socket cleanup failed", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun kontext daemon stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// Stop quiesces the daemon and asks the hosting process to exit. The
// response is written before the run loop tears the socket down, so the
// caller sees the acknowledgement.
func (s *service) Stop(_ StopRequest, reply *StopResponse) error {
	s.logger.Debug("stop requested over IPC")
	s.daemon.Stop()
	s.daemon.RequestShutdown()
	reply.Stopped = true
	s.logger.Info("daemon stopping",
		logging.String(logging.FieldEventType, "shutdown_requested"))
	return nil
}

func (s *service) Status(_ StatusRequest, reply *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	reply.Running = status.Running
	reply.PID = status.PID
	reply.Version = status.Version
	reply.ServerPhase = string(status.ServerPhase)
	reply.QueueLength = status.QueueLength
	reply.PendingChats = status.PendingChats
	reply.Generations = status.Generations.Count
	reply.MeanJobSeconds = int64(status.Generations.MeanDuration.Round(time.Second) / time.Second)
	reply.LastGenerationAt = api.FormatTime(status.Generations.LastFinishedAt)
	reply.LockPath = status.LockFilePath
	reply.HistoryDBPath = status.HistoryDBPath
	reply.LogPath = status.LogPath
	if status.Current != nil {
		row := api.FromJob(*status.Current, 1, 0)
		reply.Current = &row
	}
	return nil
}

// QueueList reports positions that count the running job as position one,
// matching what requesters are told in chat.
func (s *service) QueueList(_ QueueListRequest, reply *QueueListResponse) error {
	jobs := s.daemon.QueueSnapshot()
	if len(jobs) == 0 {
		return nil
	}
	reply.Rows = api.FromJobs(jobs, s.daemon.PerJobEstimate(s.ctx))
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, reply *QueueClearResponse) error {
	reply.Cancelled = s.daemon.ClearQueue(s.ctx)
	s.logger.Info("queue cleared",
		logging.String(logging.FieldEventType, "queue_cleared"),
		logging.Int("cancelled_count", reply.Cancelled))
	return nil
}

func (s *service) Kill(req KillRequest, reply *KillResponse) error {
	s.logger.Debug("kill switch requested", logging.String("requested_by", req.RequestedBy))
	result := s.daemon.KillAll(s.ctx, req.RequestedBy)
	reply.RunningCancelled = result.RunningCancelled
	reply.QueuedCancelled = result.QueuedCancelled
	return nil
}

func (s *service) History(req HistoryRequest, reply *HistoryResponse) error {
	records, err := s.daemon.History(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	reply.Rows = api.FromRecords(records)
	return nil
}

// tailOptions converts the wire request into logs.TailOptions, defaulting
// the follow wait to one second when the client did not name one.
func tailOptions(req LogTailRequest) logs.TailOptions {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if req.Follow && wait <= 0 {
		wait = time.Second
	}
	return logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
}

func (s *service) LogTail(req LogTailRequest, reply *LogTailResponse) error {
	path := s.daemon.LogPath()
	if path == "" {
		return nil
	}
	opts := tailOptions(req)

	ctx := s.ctx
	if req.Follow && opts.Wait > 0 {
		// Bound the blocking follow so a stuck read cannot pin the handler
		// goroutine past the client's wait.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Wait+500*time.Millisecond)
		defer cancel()
	}

	result, err := logs.Tail(ctx, path, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	reply.Lines = result.Lines
	reply.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, reply *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	reply.Sent = sent
	reply.Message = message
	return err
}
