// Package sessionhandler implements the per-connection request loop of
// §4.6: parse frame, dispatch command, reconcile history, invoke the
// LLM, persist the turn. One Handler is shared by every connection;
// per-connection state lives in the connection registry and the caches
// it is constructed with, apart from the Handler's own per-connection
// "stats" rate limiters.
package sessionhandler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jgtux/convogateway/internal/agentcache"
	"github.com/jgtux/convogateway/internal/agentmanager"
	"github.com/jgtux/convogateway/internal/chatcache"
	"github.com/jgtux/convogateway/internal/config"
	"github.com/jgtux/convogateway/internal/connregistry"
	"github.com/jgtux/convogateway/internal/entities"
	"github.com/jgtux/convogateway/internal/gatewayerr"
	"github.com/jgtux/convogateway/internal/llmclient"
	"github.com/jgtux/convogateway/internal/metrics"
	"github.com/jgtux/convogateway/internal/streambuffer"
)

// statsRateLimit and statsRateBurst bound how often a single connection
// may poll the "stats" command; a client hammering it would otherwise
// crowd out the cache telemetry every other connection relies on.
const (
	statsRateLimit = 1 // per second
	statsRateBurst = 3
)

// Transport is what a connection must offer the handler: deliver a
// streamed frame, or write any other JSON-shaped server frame.
type Transport interface {
	streambuffer.Sender
	WriteJSON(v interface{}) error
}

// ClientFrame is the wire shape of §6's client-to-server messages. Every
// field is optional at the JSON level; required-ness is enforced per
// command.
type ClientFrame struct {
	Command string `json:"command,omitempty"`

	AuthID string `json:"auth_uuid,omitempty"`

	ChatID       string                   `json:"chat_uuid,omitempty"`
	Content      string                   `json:"content,omitempty"`
	SenderID     string                   `json:"sender_uuid,omitempty"`
	SenderType   entities.ParticipantKind `json:"sender_type,omitempty"`
	ReceiverID   string                   `json:"receiver_uuid,omitempty"`
	ReceiverType entities.ParticipantKind `json:"receiver_type,omitempty"`

	AgentID          string `json:"agent_uuid,omitempty"`
	AgentName        string `json:"agent_name,omitempty"`
	AgentDescription string `json:"agent_description,omitempty"`
	CategoryID       string `json:"category_id,omitempty"`
	SystemPrompt     string `json:"system_prompt,omitempty"`

	ChatHistory []entities.HistoryMessage `json:"chat_history,omitempty"`
	SyncMode    string                    `json:"sync_mode,omitempty"`
}

// IdentifyAck acknowledges a successful identify command.
type IdentifyAck struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// StatsFrame answers the "stats" command with a snapshot of every
// tracked component.
type StatsFrame struct {
	Type           string             `json:"type"`
	AgentCache     agentcache.Stats   `json:"agent_cache"`
	ChatCache      chatcache.Stats    `json:"chat_cache"`
	ConnectionPool connregistry.Stats `json:"connection_pool"`
}

// Handler wires the Agent Manager, Chat Cache, LLM client, and
// Connection Registry together into the per-connection command
// dispatch of §4.6.
type Handler struct {
	agents   *agentmanager.Manager
	chats    *chatcache.Cache
	llm      *llmclient.Client
	registry *connregistry.Registry

	context config.ContextConfig
	stream  config.StreamConfig

	statsLimiters   map[string]*rate.Limiter
	statsLimitersMu sync.Mutex

	log zerolog.Logger
}

// New constructs a Handler.
func New(agents *agentmanager.Manager, chats *chatcache.Cache, llm *llmclient.Client, registry *connregistry.Registry, contextCfg config.ContextConfig, streamCfg config.StreamConfig, log zerolog.Logger) *Handler {
	return &Handler{
		agents:        agents,
		chats:         chats,
		llm:           llm,
		registry:      registry,
		context:       contextCfg,
		stream:        streamCfg,
		statsLimiters: make(map[string]*rate.Limiter),
		log:           log.With().Str("component", "session_handler").Logger(),
	}
}

// ForgetConnection drops the per-connection rate limiter state. The
// caller's connection teardown path should call this after
// Registry.Unregister so a long-running gateway doesn't accumulate one
// limiter per connection that ever dialed in.
func (h *Handler) ForgetConnection(connectionID string) {
	h.statsLimitersMu.Lock()
	delete(h.statsLimiters, connectionID)
	h.statsLimitersMu.Unlock()
}

func (h *Handler) statsLimiter(connectionID string) *rate.Limiter {
	h.statsLimitersMu.Lock()
	defer h.statsLimitersMu.Unlock()
	l, ok := h.statsLimiters[connectionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(statsRateLimit), statsRateBurst)
		h.statsLimiters[connectionID] = l
	}
	return l
}

// HandleMessage parses one inbound frame and dispatches it. It returns
// nothing to the caller: every failure is resolved here into a reply
// frame, and HandleMessage never closes the connection itself. The
// caller is expected to keep reading after an error reply.
func (h *Handler) HandleMessage(ctx context.Context, connectionID string, transport Transport, raw []byte) {
	h.registry.UpdateActivity(connectionID, 0, 1)

	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.MalformedFrame, "could not parse frame as JSON"))
		return
	}

	switch frame.Command {
	case "identify":
		h.handleIdentify(transport, connectionID, frame)
	case "stats":
		h.handleStats(transport, connectionID, frame)
	case "":
		h.handleChatTurn(ctx, transport, connectionID, frame)
	default:
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.MalformedFrame, "unknown command"))
	}
}

func (h *Handler) handleIdentify(transport Transport, connectionID string, frame ClientFrame) {
	if frame.AuthID == "" {
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.MissingFields, "identify requires auth_uuid"))
		return
	}
	h.registry.Identify(connectionID, frame.AuthID)
	_ = transport.WriteJSON(IdentifyAck{Type: "identified", ConnectionID: connectionID})
}

func (h *Handler) handleStats(transport Transport, connectionID string, frame ClientFrame) {
	if !h.statsLimiter(connectionID).Allow() {
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.MalformedFrame, "stats requested too frequently"))
		return
	}
	_ = transport.WriteJSON(StatsFrame{
		Type:           "stats",
		AgentCache:     h.agents.Stats(),
		ChatCache:      h.chats.Stats(),
		ConnectionPool: h.registry.Stats(),
	})
	_ = frame // command carries no other fields
}

func (h *Handler) handleChatTurn(ctx context.Context, transport Transport, connectionID string, frame ClientFrame) {
	meta, ok := h.registry.Get(connectionID)
	if !ok || !meta.Identified() {
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.NotIdentified, "not identified"))
		return
	}

	if frame.ChatID == "" || frame.Content == "" || frame.SenderID == "" {
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.MissingFields, "missing required fields"))
		return
	}

	if frame.SenderID != meta.AuthID {
		h.log.Warn().
			Str("connection_id", connectionID).
			Str("claimed_sender", frame.SenderID).
			Str("bound_auth_id", meta.AuthID).
			Msg("sender identity mismatch")
		h.reply(transport, connectionID, gatewayerr.New(gatewayerr.AuthMismatch, "sender mismatch").WithChatID(frame.ChatID))
		return
	}

	agentID := frame.AgentID
	if agentID == "" {
		agentID = frame.ReceiverID
	}
	agent := h.agents.GetOrCreate(agentmanager.Params{
		AgentID:      agentID,
		AuthID:       meta.AuthID,
		Name:         frame.AgentName,
		Description:  frame.AgentDescription,
		CategoryID:   frame.CategoryID,
		SystemPrompt: frame.SystemPrompt,
	})

	if len(frame.ChatHistory) > 0 {
		mode := chatcache.SyncMode(frame.SyncMode)
		if mode == "" {
			mode = chatcache.SyncAuto
		}
		if _, err := h.chats.SyncMessages(frame.ChatID, agent.ID, meta.AuthID, frame.ChatHistory, mode); err != nil {
			h.reply(transport, connectionID, gatewayerr.New(gatewayerr.BadHistoryItem, err.Error()).WithChatID(frame.ChatID))
			return
		}
	}

	senderType := frame.SenderType
	if senderType == "" {
		senderType = entities.KindAuth
	}
	receiverType := frame.ReceiverType
	if receiverType == "" {
		receiverType = entities.KindAgent
	}
	receiverID := frame.ReceiverID
	if receiverID == "" {
		receiverID = agent.ID
	}

	h.chats.AddNewMessage(entities.Message{
		ID:           uuid.NewString(),
		SenderID:     frame.SenderID,
		SenderKind:   senderType,
		ReceiverID:   receiverID,
		ReceiverKind: receiverType,
		ChatID:       frame.ChatID,
		ContentID:    uuid.NewString(),
		Content:      frame.Content,
		CreatedAt:    time.Now(),
	})

	turns := h.chats.AssembleContext(frame.ChatID, agent.ID, meta.AuthID, agent.GetSystemPrompt(), h.context.Sliding())
	messages := make([]llmclient.ChatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llmclient.ChatMessage{Role: t.Role, Content: t.Content})
	}

	minChunk := h.stream.MinChunkSize
	if minChunk <= 0 {
		minChunk = streambuffer.DefaultMinChunk
	}
	maxDelay := h.stream.MaxDelay
	if maxDelay <= 0 {
		maxDelay = streambuffer.DefaultMaxDelay
	}
	buffer := streambuffer.New(transport, frame.ChatID, agent.ID, minChunk, maxDelay, h.log)

	if err := h.llm.CompleteStream(ctx, messages, buffer); err != nil {
		metrics.RecordLLMError(err)
		gwErr := gatewayerr.Wrap(frame.ChatID, err)
		metrics.RecordGatewayError(gwErr.Kind)
		h.reply(transport, connectionID, gwErr)
		return
	}

	h.chats.AddNewMessage(entities.Message{
		ID:           uuid.NewString(),
		SenderID:     agent.ID,
		SenderKind:   entities.KindAgent,
		ReceiverID:   frame.SenderID,
		ReceiverKind: entities.KindAuth,
		ChatID:       frame.ChatID,
		ContentID:    uuid.NewString(),
		Content:      buffer.FullResponse(),
		CreatedAt:    time.Now(),
	})

	metrics.StreamTurnsCompletedTotal.Inc()
}

func (h *Handler) reply(transport Transport, connectionID string, err *gatewayerr.GatewayError) {
	metrics.RecordGatewayError(err.Kind)
	policy := gatewayerr.PolicyFor(err.Kind)
	if policy.Reply {
		_ = transport.WriteJSON(gatewayerr.ToFrame(err, connectionID))
	}
}
