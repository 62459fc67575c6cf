package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// TimerServiceClient calls a remote TimerService.
type TimerServiceClient interface {
	CreateSession(context.Context, *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error)
	GetSession(context.Context, *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error)
	SendCommand(context.Context, *connect.Request[SendCommandRequest]) (*connect.Response[SendCommandResponse], error)
}

type timerServiceClient struct {
	createSession *connect.Client[CreateSessionRequest, CreateSessionResponse]
	getSession    *connect.Client[GetSessionRequest, GetSessionResponse]
	sendCommand   *connect.Client[SendCommandRequest, SendCommandResponse]
}

// NewTimerServiceClient constructs a client for the service at baseURL, for
// example http://localhost:8081.
func NewTimerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) TimerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &timerServiceClient{
		createSession: connect.NewClient[CreateSessionRequest, CreateSessionResponse](httpClient, baseURL+CreateSessionProcedure, opts...),
		getSession:    connect.NewClient[GetSessionRequest, GetSessionResponse](httpClient, baseURL+GetSessionProcedure, opts...),
		sendCommand:   connect.NewClient[SendCommandRequest, SendCommandResponse](httpClient, baseURL+SendCommandProcedure, opts...),
	}
}

func (c *timerServiceClient) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error) {
	return c.createSession.CallUnary(ctx, req)
}

func (c *timerServiceClient) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	return c.getSession.CallUnary(ctx, req)
}

func (c *timerServiceClient) SendCommand(ctx context.Context, req *connect.Request[SendCommandRequest]) (*connect.Response[SendCommandResponse], error) {
	return c.sendCommand.CallUnary(ctx, req)
}
