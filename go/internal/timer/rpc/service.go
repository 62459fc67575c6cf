package rpc

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/roomid"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/controller"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/session"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// TimerServiceHandler is implemented by Service.
type TimerServiceHandler interface {
	CreateSession(context.Context, *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error)
	GetSession(context.Context, *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error)
	SendCommand(context.Context, *connect.Request[SendCommandRequest]) (*connect.Response[SendCommandResponse], error)
}

// Store is the slice of the session store the service touches. It cannot write
// timer state.
type Store interface {
	store.SessionReader
	store.SessionCreator
	store.CommandAppender
}

// Service implements TimerServiceHandler on top of a store.
type Service struct {
	store    Store
	clock    clockwork.Clock
	defaults models.SessionConfig
}

// NewService creates the service. defaults is used for sessions created without
// an explicit config.
func NewService(st Store, defaults models.SessionConfig, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: st, clock: clock, defaults: defaults}
}

var _ TimerServiceHandler = (*Service)(nil)

// CreateSession creates a session, or returns the existing one when the
// requested id is already taken.
func (s *Service) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error) {
	cfg := s.defaults.Clone()
	if req.Msg.Config != nil {
		cfg = req.Msg.Config.Clone()
	}
	if cfg.OvertimeMode == "" {
		cfg.OvertimeMode = models.OvertimeModeNone
	}

	id := req.Msg.SessionID
	if id == "" {
		var err error
		id, err = session.Create(ctx, s.store, cfg)
		if err != nil {
			return nil, toConnectError(err)
		}
	} else {
		parsed, err := roomid.Parse(id)
		if err != nil {
			return nil, toConnectError(err)
		}
		id = parsed
	}

	sess, err := session.Ensure(ctx, s.store, id, cfg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateSessionResponse{Session: sess}), nil
}

// GetSession returns the session document and its derived view.
func (s *Service) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	id := roomid.Normalize(req.Msg.SessionID)
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session id is required"))
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetSessionResponse{
		Session: sess,
		View:    derive.Evaluate(sess, s.clock.Now()),
	}), nil
}

// SendCommand validates the payload and appends it to the session's queue.
func (s *Service) SendCommand(ctx context.Context, req *connect.Request[SendCommandRequest]) (*connect.Response[SendCommandResponse], error) {
	id := roomid.Normalize(req.Msg.SessionID)
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session id is required"))
	}
	p, err := command.DecodePayload(req.Msg.Type, req.Msg.Payload)
	if err != nil {
		return nil, toConnectError(err)
	}

	emitter := controller.NewEmitter(id, s.store, s.clock).WithOrigin(req.Msg.OriginID)
	cmdID, err := emitter.Send(ctx, p)
	if err != nil {
		return nil, toConnectError(err)
	}
	log.Info().
		Str("session_id", id).
		Str("command_id", cmdID).
		Str("command_type", string(req.Msg.Type)).
		Str("origin_id", emitter.OriginID()).
		Msg("command accepted")
	return connect.NewResponse(&SendCommandResponse{CommandID: cmdID}), nil
}

// NewTimerServiceHandler builds an HTTP handler that serves svc, along with the
// path to mount it on.
func NewTimerServiceHandler(svc TimerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	createSession := connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, opts...)
	getSession := connect.NewUnaryHandler(GetSessionProcedure, svc.GetSession, opts...)
	sendCommand := connect.NewUnaryHandler(SendCommandProcedure, svc.SendCommand, opts...)

	return "/" + TimerServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CreateSessionProcedure:
			createSession.ServeHTTP(w, r)
		case GetSessionProcedure:
			getSession.ServeHTTP(w, r)
		case SendCommandProcedure:
			sendCommand.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func toConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, store.ErrSessionExists):
		code = connect.CodeAlreadyExists
	case errors.Is(err, command.ErrUnknownType),
		errors.Is(err, command.ErrMalformedPayload),
		errors.Is(err, models.ErrInvalidPreset),
		errors.Is(err, roomid.ErrInvalid):
		code = connect.CodeInvalidArgument
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	default:
		log.Error().Err(err).Msg("timer rpc failed")
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
