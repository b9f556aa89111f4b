// Package relay is the ingress facade over the routing core. It owns
// construction and lifecycle of the registry, dispatch queue, router,
// transport, analytics monitor, and knowledge broker, and exposes the
// operations external collaborators call.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/analytics"
	"github.com/agentmesh/relay/internal/broker"
	"github.com/agentmesh/relay/internal/compress"
	"github.com/agentmesh/relay/internal/config"
	"github.com/agentmesh/relay/internal/delivery"
	"github.com/agentmesh/relay/internal/models"
	"github.com/agentmesh/relay/internal/queue"
	"github.com/agentmesh/relay/internal/registry"
	"github.com/agentmesh/relay/internal/router"
	"github.com/agentmesh/relay/internal/sessionstore"
	"github.com/agentmesh/relay/internal/transport"
)

// Service wires the routing core together. Construct with New; all
// dependencies are explicit, nothing is ambient process state.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry  *registry.Registry
	dispatch  *queue.Dispatch
	store     delivery.Store
	transport *transport.Transport
	router    *router.Router
	monitor   *analytics.Monitor
	broker    *broker.Broker
	sessions  sessionstore.Store // optional durable session records

	cancelSweep context.CancelFunc
	sweepDone   chan struct{}
}

// New builds a service over the given delivery store and (optionally
// nil) durable session store.
func New(cfg *config.Config, logger zerolog.Logger, store delivery.Store, sessions sessionstore.Store) *Service {
	reg := registry.New()
	dispatch := queue.NewDispatch()
	tr := transport.New(store, logger)
	monitor := analytics.NewMonitor()
	codec := compress.NewCodec(cfg.CompressionMinSize)
	rt := router.New(reg, dispatch, store, tr, monitor, codec, logger)

	return &Service{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		dispatch:  dispatch,
		store:     store,
		transport: tr,
		router:    rt,
		monitor:   monitor,
		broker:    broker.New(rt, logger, cfg.KnowledgeSharingEnabled),
		sessions:  sessions,
	}
}

// Start restores persisted sessions, launches the dispatcher loop, and
// begins the periodic expiry sweep.
func (s *Service) Start(ctx context.Context) {
	s.restoreSessions(ctx)
	s.router.Start(ctx)

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.cancelSweep = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(sweepCtx)

	s.logger.Info().Msg("relay service started")
}

// Stop shuts down gracefully: the dispatcher finishes its in-flight
// message, queued messages stay queued, and session state is flushed.
func (s *Service) Stop(timeout time.Duration) error {
	if s.cancelSweep != nil {
		s.cancelSweep()
		<-s.sweepDone
	}

	err := s.router.Stop(timeout)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flushSessions(flushCtx)

	s.logger.Info().Msg("relay service stopped")
	return err
}

// Router exposes handler and filter registration.
func (s *Service) Router() *router.Router { return s.router }

// Transport exposes endpoint registration for the websocket layer.
func (s *Service) Transport() *transport.Transport { return s.transport }

// Broker exposes cross-project link management.
func (s *Service) Broker() *broker.Broker { return s.broker }

// CreateSession registers a new chat session and persists its record.
func (s *Service) CreateSession(ctx context.Context, id string, kind models.SessionKind, participants []string, metadata map[string]string) (*models.ChatSession, error) {
	session, err := s.registry.Create(id, kind, participants, metadata)
	if err != nil {
		return nil, err
	}

	s.persistSession(ctx, session)
	s.logger.Info().Str("session", id).Str("kind", string(kind)).Msg("session created")
	return session, nil
}

// CloseSession marks a session inactive. Idempotent.
func (s *Service) CloseSession(ctx context.Context, id string) bool {
	ok := s.registry.Close(id)
	if ok && s.sessions != nil {
		if err := s.sessions.SetActive(ctx, id, false); err != nil {
			s.logger.Warn().Err(err).Str("session", id).Msg("could not persist session close")
		}
	}
	if ok {
		s.logger.Info().Str("session", id).Msg("session closed")
	}
	return ok
}

// Subscribe adds an agent to a session's subscription set.
func (s *Service) Subscribe(agentID, sessionID string) error {
	return s.registry.Subscribe(agentID, sessionID)
}

// Unsubscribe removes the relation. No-op if absent.
func (s *Service) Unsubscribe(agentID, sessionID string) {
	s.registry.Unsubscribe(agentID, sessionID)
}

// BroadcastRequest is the ingress payload for sending a message.
type BroadcastRequest struct {
	SourceSessionID string
	SourceAgentID   string
	Content         string
	TargetIDs       []string
	Type            models.MessageType
	Priority        models.Priority
	TTLSeconds      int
}

// BroadcastResult reports the partial-success outcome.
type BroadcastResult struct {
	RoutedMessages      int      `json:"routedMessages"`
	TransportBroadcasts int      `json:"transportBroadcasts"`
	Errors              []string `json:"errors,omitempty"`
}

// Broadcast resolves targets, builds the message, and places it on the
// dispatch queue. Delivery itself happens on the dispatcher loop.
// TransportBroadcasts counts the currently connected participants the
// dispatcher will push to. Only malformed input is rejected outright.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (BroadcastResult, error) {
	var result BroadcastResult

	if req.SourceAgentID == "" || req.Content == "" {
		return result, fmt.Errorf("source agent and content are required")
	}
	if req.Type == "" {
		req.Type = models.TypeText
	}
	if req.Priority == 0 {
		req.Priority = models.PriorityNormal
	}
	if !req.Priority.Valid() {
		return result, fmt.Errorf("priority %d out of range", req.Priority)
	}
	targets := req.TargetIDs
	if len(targets) == 0 {
		targets = []string{registry.TargetAll}
	}

	msg := models.NewMessage(req.SourceAgentID, models.SenderAgent, req.Type, req.Priority, []byte(req.Content), targets)
	msg.TTLSeconds = req.TTLSeconds
	msg.MaxRetries = s.cfg.DefaultMaxRetries

	routeResult, err := s.router.Submit(ctx, msg)
	result.Errors = routeResult.Errors
	if err != nil {
		return result, err
	}
	result.RoutedMessages = routeResult.Routed

	for _, sessionID := range msg.TargetIDs {
		session, ok := s.registry.Get(sessionID)
		if !ok {
			continue
		}
		for _, participant := range session.Participants {
			if participant != msg.Sender && s.transport.Connected(participant) {
				result.TransportBroadcasts++
			}
		}
	}

	return result, nil
}

// Messages returns session history, newest first.
func (s *Service) Messages(sessionID string, limit int) []*models.Message {
	return s.router.History(sessionID, limit)
}

// SearchMessages does a case-insensitive substring search over history.
func (s *Service) SearchMessages(query, sessionID string, limit int) []*models.Message {
	return s.router.SearchHistory(query, sessionID, limit)
}

// Sessions returns every known session.
func (s *Service) Sessions() []*models.ChatSession {
	return s.registry.Sessions()
}

// Session returns one session by id.
func (s *Service) Session(id string) (*models.ChatSession, bool) {
	return s.registry.Get(id)
}

// Status aggregates counters for the status endpoint.
type Status struct {
	SessionsTotal  int                `json:"sessionsTotal"`
	SessionsActive int                `json:"sessionsActive"`
	QueueSizes     map[string]int     `json:"queueSizes"`
	DeliveryQueues delivery.Status    `json:"deliveryQueues"`
	HealthScore    float64            `json:"healthScore"`
	Throughput     float64            `json:"throughputPerMinute"`
	Analytics      analytics.Snapshot `json:"analytics"`
}

// Status reports sessions, queue depths, and health.
func (s *Service) Status(ctx context.Context) Status {
	total, active := s.registry.Counts()

	sizes := make(map[string]int, models.PriorityLevels)
	for priority, n := range s.dispatch.Sizes() {
		sizes[priority.String()] = n
	}

	deliveryStatus, err := s.store.QueueStatus(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("delivery store status unavailable")
	}

	return Status{
		SessionsTotal:  total,
		SessionsActive: active,
		QueueSizes:     sizes,
		DeliveryQueues: deliveryStatus,
		HealthScore:    s.monitor.HealthScore(),
		Throughput:     s.monitor.Throughput(5),
		Analytics:      s.monitor.Stats(),
	}
}

// DeliveryPing reports backing store reachability for health checks.
func (s *Service) DeliveryPing(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionStorePing reports durable session store reachability, or nil
// when none is configured.
func (s *Service) SessionStorePing(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Ping(ctx)
}

// sweepLoop periodically purges expired messages from the delivery
// store and flushes session records.
func (s *Service) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.store.ClearExpired(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("expiry sweep failed")
			} else if removed > 0 {
				s.logger.Info().Int("removed", removed).Msg("expired messages swept")
			}
			s.flushSessions(ctx)
		}
	}
}

func (s *Service) restoreSessions(ctx context.Context) {
	if s.sessions == nil {
		return
	}
	records, err := s.sessions.ListSessions(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not restore persisted sessions")
		return
	}
	restored := 0
	for _, rec := range records {
		session := &models.ChatSession{
			ID:           rec.ID,
			Kind:         models.SessionKind(rec.Kind),
			Participants: rec.Participants,
			CreatedAt:    rec.CreatedAt,
			LastActivity: rec.LastActivity,
			Active:       rec.Active,
			MessageCount: rec.MessageCount,
			Metadata:     rec.Metadata,
		}
		if s.registry.Load(session) {
			restored++
		}
	}
	if restored > 0 {
		s.logger.Info().Int("sessions", restored).Msg("persisted sessions restored")
	}
}

func (s *Service) flushSessions(ctx context.Context) {
	if s.sessions == nil {
		return
	}
	for _, session := range s.registry.Sessions() {
		s.persistSession(ctx, session)
	}
}

func (s *Service) persistSession(ctx context.Context, session *models.ChatSession) {
	if s.sessions == nil {
		return
	}
	rec := &sessionstore.Record{
		ID:           session.ID,
		Kind:         string(session.Kind),
		Participants: session.Participants,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		Active:       session.Active,
		MessageCount: session.MessageCount,
		Metadata:     session.Metadata,
	}
	if err := s.sessions.SaveSession(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("session", session.ID).Msg("could not persist session record")
	}
}
