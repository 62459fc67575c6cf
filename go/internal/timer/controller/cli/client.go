package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/cuecard/go/internal/config"
	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/backend"
	"github.com/mcdev12/cuecard/go/internal/timer/command"
	"github.com/mcdev12/cuecard/go/internal/timer/controller"
	"github.com/mcdev12/cuecard/go/internal/timer/derive"
	"github.com/mcdev12/cuecard/go/internal/timer/rpc"
	"github.com/mcdev12/cuecard/go/internal/timer/session"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// timerClient is what the commands need, either over RPC or straight against
// the store.
type timerClient interface {
	Create(ctx context.Context, id string) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, derive.View, error)
	Send(ctx context.Context, id string, p command.Payload) (string, error)
	// View returns the current derived view, used by watch.
	View(ctx context.Context, id string) (derive.View, error)
	Close() error
}

type rpcClient struct {
	client   rpc.TimerServiceClient
	originID string
}

func newRPCClient(httpClient connect.HTTPClient, server, originID string) *rpcClient {
	return &rpcClient{client: rpc.NewTimerServiceClient(httpClient, server), originID: originID}
}

func (c *rpcClient) Create(ctx context.Context, id string) (*models.Session, error) {
	res, err := c.client.CreateSession(ctx, connect.NewRequest(&rpc.CreateSessionRequest{SessionID: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg.Session, nil
}

func (c *rpcClient) Get(ctx context.Context, id string) (*models.Session, derive.View, error) {
	res, err := c.client.GetSession(ctx, connect.NewRequest(&rpc.GetSessionRequest{SessionID: id}))
	if err != nil {
		return nil, derive.View{}, err
	}
	return res.Msg.Session, res.Msg.View, nil
}

func (c *rpcClient) Send(ctx context.Context, id string, p command.Payload) (string, error) {
	raw, err := command.Encode(p)
	if err != nil {
		return "", err
	}
	res, err := c.client.SendCommand(ctx, connect.NewRequest(&rpc.SendCommandRequest{
		SessionID: id,
		OriginID:  c.originID,
		Type:      p.Type(),
		Payload:   raw,
	}))
	if err != nil {
		return "", err
	}
	return res.Msg.CommandID, nil
}

func (c *rpcClient) View(ctx context.Context, id string) (derive.View, error) {
	_, v, err := c.Get(ctx, id)
	return v, err
}

func (c *rpcClient) Close() error { return nil }

type localClient struct {
	store    store.Store
	defaults models.SessionConfig
	clock    clockwork.Clock
	originID string

	mirror     *controller.Mirror
	mirrorID   string
	stopMirror context.CancelFunc
}

func openLocalClient(ctx context.Context, configPath, originID string) (*localClient, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := backend.Open(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &localClient{store: st, defaults: cfg.SessionDefaults(), clock: clockwork.NewRealClock(), originID: originID}, nil
}

func (c *localClient) Create(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		var err error
		if id, err = session.Create(ctx, c.store, c.defaults); err != nil {
			return nil, err
		}
	}
	return session.Ensure(ctx, c.store, id, c.defaults)
}

func (c *localClient) Get(ctx context.Context, id string) (*models.Session, derive.View, error) {
	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, derive.View{}, err
	}
	return s, derive.Evaluate(s, c.clock.Now()), nil
}

func (c *localClient) Send(ctx context.Context, id string, p command.Payload) (string, error) {
	return controller.NewEmitter(id, c.store, c.clock).WithOrigin(c.originID).Send(ctx, p)
}

// View follows id through a Mirror, so repeated calls read the local copy
// instead of the store.
func (c *localClient) View(ctx context.Context, id string) (derive.View, error) {
	if c.mirror == nil || c.mirrorID != id {
		if c.stopMirror != nil {
			c.stopMirror()
		}
		mctx, cancel := context.WithCancel(ctx)
		m := controller.NewMirror(id, c.store, c.clock)
		c.mirror, c.mirrorID, c.stopMirror = m, id, cancel
		go func() { _ = m.Run(mctx) }()
	}
	for {
		if v, ok := c.mirror.View(); ok {
			return v, nil
		}
		if c.mirror.Gone() {
			return derive.View{}, fmt.Errorf("session %s: %w", id, store.ErrSessionNotFound)
		}
		select {
		case <-ctx.Done():
			return derive.View{}, ctx.Err()
		case <-c.mirror.Updates():
		}
	}
}

func (c *localClient) Close() error {
	if c.stopMirror != nil {
		c.stopMirror()
	}
	return c.store.Close()
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
