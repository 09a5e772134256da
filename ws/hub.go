package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/auth"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/moderation"
	"github.com/nightlife-social/livechat/persistence"
	"github.com/nightlife-social/livechat/pipeline"
	"github.com/nightlife-social/livechat/policy"
	"github.com/nightlife-social/livechat/presence"
	"github.com/nightlife-social/livechat/ratelimit"
	"github.com/nightlife-social/livechat/typing"
	"github.com/robfig/cron/v3"
)

const (
	defaultMaxMessageSize = 8192
	defaultPongWait       = 60 * time.Second
	defaultPingPeriod     = 50 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultSendBufferSize = 256
)

// Hub is the process-scoped state of one chat shard. Every room of the shard lives in its registry, so all
// connections of a room must be served by the same hub.
//
// Lock order: typing coordinator, then sendMu, then the registry and the clients map. Handlers never hold a
// lock while calling into another component.
type Hub struct {
	cfg       *config.Config
	transport config.TransportConfig
	logger    hclog.Logger

	registry   *presence.Registry
	typing     *typing.Coordinator
	moderation *moderation.Controller
	pipeline   *pipeline.Pipeline
	directory  *auth.Directory
	limiter    ratelimit.Limiter

	upgrader websocket.Upgrader

	// Registered clients by connection id.
	clients map[string]*Client
	mu      sync.RWMutex

	// sendMu serializes fan-out, which gives every connection the events of a room in broadcast order.
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

type Options struct {
	Config    *config.Config
	Store     persistence.MessageStore
	Directory *auth.Directory
	Limiter   ratelimit.Limiter
	Logger    hclog.Logger
}

func NewHub(opts Options) (*Hub, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	pol, err := policy.New(cfg.ModerationConfig.Policy)
	if err != nil {
		return nil, err
	}
	logger := globals.Logger(opts.Logger, "hub")
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:       cfg,
		transport: transportDefaults(cfg.TransportConfig),
		logger:    logger,
		registry:  presence.NewRegistry(),
		directory: opts.Directory,
		limiter:   limiter,
		clients:   make(map[string]*Client),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.typing = typing.NewCoordinator(h, cfg.TypingConfig.IdleTimeout, logger)
	var users moderation.UserLookup
	if opts.Directory != nil {
		users = opts.Directory
	}
	h.moderation = moderation.NewController(h.registry, h, pol, users, logger)
	h.pipeline = pipeline.New(pipeline.Options{
		Members:     h.registry,
		Limiter:     limiter,
		Policies:    ratelimit.PoliciesFromConfig(cfg.RateLimitConfig),
		Store:       opts.Store,
		Broadcaster: h,
		Typing:      h.typing,
		History:     cfg.HistoryConfig,
		Logger:      logger,
	})
	return h, nil
}

func transportDefaults(t config.TransportConfig) config.TransportConfig {
	if t.MaxMessageSize <= 0 {
		t.MaxMessageSize = defaultMaxMessageSize
	}
	if t.PongWait <= 0 {
		t.PongWait = defaultPongWait
	}
	if t.PingInterval <= 0 || t.PingInterval >= t.PongWait {
		t.PingInterval = t.PongWait * 9 / 10
	}
	if t.WriteWait <= 0 {
		t.WriteWait = defaultWriteWait
	}
	if t.SendBufferSize <= 0 {
		t.SendBufferSize = defaultSendBufferSize
	}
	if len(t.AllowedTransports) == 0 {
		t.AllowedTransports = []string{"websocket"}
	}
	return t
}

func (h *Hub) Pipeline() *pipeline.Pipeline {
	return h.pipeline
}

func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

func (h *Hub) NoClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) client(connId string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connId]
}

// Run runs the periodic maintenance until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	spec := h.cfg.RateLimitConfig.SweepSpec
	if spec == "" {
		spec = "@every 1m"
	}
	entryId, err := cronRunner.AddFunc(spec, func() {
		h.limiter.Sweep()
		stats := h.registry.Stats()
		h.logger.Debug("swept rate windows", "rooms", stats.Rooms, "connections", h.NoClients())
	})
	if err != nil {
		return err
	}
	defer cronRunner.Remove(entryId)
	cronRunner.Start()
	defer cronRunner.Stop()

	select {
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	return nil
}

// Close disconnects every client, running the normal disconnect cleanup for each.
func (h *Hub) Close() {
	h.cancel()
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.shutdown("server shutdown")
		h.unregister(c)
	}
	h.typing.Close()
}
