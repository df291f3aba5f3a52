package server

import (
	"errors"
	"fmt"
	"time"

	anetserver "github.com/andrei-cloud/anet/server"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/internal/logging"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// Executor runs one transport frame and returns the response frame.
type Executor interface {
	Execute(frame []byte) []byte
}

// logAdapter implements anet.Logger using zerolog.
type logAdapter struct{}

// Server exposes a chip over TCP using the anet framing.
type Server struct {
	address     string
	srv         *anetserver.Server
	chip        Executor
	activeConns atomic.Int64
	served      atomic.Uint64
}

func (l logAdapter) Print(v ...any) {
	log.Info().Msg(fmt.Sprint(v...))
}

func (l logAdapter) Printf(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Infof(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (l logAdapter) Warnf(format string, v ...any) {
	log.Warn().Msgf(format, v...)
}

func (l logAdapter) Errorf(format string, v ...any) {
	log.Error().Msgf(format, v...)
}

// NewServer configures and returns the chip server instance.
func NewServer(address string, chip Executor) (*Server, error) {
	if chip == nil {
		return nil, errors.New("server setup failed: nil chip")
	}
	cfg := &anetserver.ServerConfig{
		MaxConns:        16,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     0 * time.Second, // disable idle connection closure.
		ShutdownTimeout: 5 * time.Second,
		Logger:          logAdapter{},
	}

	s := &Server{
		address: address,
		chip:    chip,
	}
	handler := anetserver.HandlerFunc(s.handle)
	srv, err := anetserver.NewServer(address, handler, cfg)
	if err != nil {
		return nil, fmt.Errorf("server setup failed: %w", err)
	}
	s.srv = srv

	return s, nil
}

// Start begins listening for connections.
func (s *Server) Start() error {
	log.Info().Str("event", "server_started").Str("address", s.address).Msg("server started")

	return s.srv.Start()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	return s.srv.Stop()
}

// Served returns the number of frames answered so far.
func (s *Server) Served() uint64 {
	return s.served.Load()
}

func (s *Server) handle(conn *anetserver.ServerConn, data []byte) ([]byte, error) {
	client := conn.Conn.RemoteAddr().String()
	active := s.activeConns.Inc()
	defer s.activeConns.Dec()

	start := time.Now()
	cmd := commandOf(data)
	logging.LogRequest(client, cmd, data, active)

	resp := s.chip.Execute(data)
	s.served.Inc()

	logging.LogResponse(client, cmd, resp, statusOf(resp), s.activeConns.Load())
	log.Debug().
		Str("event", "handle_done").
		Str("command", cmd).
		Str("duration", time.Since(start).String()).
		Msg("completed request handling")

	return resp, nil
}

// commandOf names the command carried by a request frame.
func commandOf(frame []byte) string {
	f, err := apdu.ParseFrame(frame)
	if err != nil || len(f.Payload) == 0 {
		return "malformed"
	}

	return apdu.CommandName(f.Payload[0])
}

func statusOf(frame []byte) uint16 {
	f, err := apdu.ParseFrame(frame)
	if err != nil {
		return errorcodes.ErrCmdInvalidResponse.Code
	}
	r, err := apdu.ParseResponse(f.Payload)
	if err != nil {
		return errorcodes.ErrCmdInvalidResponse.Code
	}

	return errorcodes.CodeOf(r.Err())
}
