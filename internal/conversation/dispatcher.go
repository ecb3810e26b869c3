package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/identity"
	"github.com/IanOtollo/whatsapp-ai-bot/internal/observability/metrics"
	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport"
	"github.com/IanOtollo/whatsapp-ai-bot/pkg/logging"
)

// OwnerNotifier delivers alerts to a configured owner.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, recipient, text string) error
}

const (
	defaultAssistantTimeout   = 30 * time.Second
	defaultAssistantMaxTokens = 512
)

// Dispatcher drives the per-message pipeline: classify the sender, load
// conversation state, run the state machine, persist the next state, then
// execute the produced actions best-effort.
//
// Processing for one sender is serialized by a per-sender lock so two rapid
// messages from the same contact never race on the state store. Distinct
// senders proceed fully in parallel.
type Dispatcher struct {
	store     StateStore
	llm       LLMClient
	messenger transport.Messenger
	notifier  OwnerNotifier
	opts      RouterOptions
	excluded  []string
	timeout   time.Duration
	metrics   *metrics.ConversationMetrics
	logger    *logging.Logger

	mu      sync.Mutex
	senders map[string]*sync.Mutex
}

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*Dispatcher)

// WithAssistantTimeout bounds each assistant call. An unbounded call would
// stall the sender's conversation indefinitely.
func WithAssistantTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithExcludedSenders configures identifiers whose messages are dropped
// before any state handling.
func WithExcludedSenders(excluded []string) DispatcherOption {
	return func(d *Dispatcher) {
		d.excluded = excluded
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *metrics.ConversationMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher wires the router pipeline together.
func NewDispatcher(store StateStore, llm LLMClient, messenger transport.Messenger, notifier OwnerNotifier, opts RouterOptions, logger *logging.Logger, dopts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic("conversation: state store cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		store:     store,
		llm:       llm,
		messenger: messenger,
		notifier:  notifier,
		opts:      opts,
		timeout:   defaultAssistantTimeout,
		logger:    logger,
		senders:   make(map[string]*sync.Mutex),
	}
	for _, opt := range dopts {
		opt(d)
	}
	return d
}

// Handle processes one inbound message end to end. Nothing it does can crash
// the process: every failure degrades to log-and-continue at the finest
// grain, so one bad message never affects other senders.
func (d *Dispatcher) Handle(ctx context.Context, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling message",
				"sender", msg.Sender,
				"panic", r,
			)
		}
	}()

	class := identity.Classify(msg.Sender, msg.IsGroup, d.opts.Owners, d.excluded)
	d.metrics.ObserveInbound(string(class))
	if class != identity.ClassNormal {
		d.logger.Info("dropping filtered message", "sender", msg.Sender, "class", string(class))
		return
	}

	unlock := d.lockSender(msg.Sender)
	defer unlock()

	current, err := d.store.Get(ctx, msg.Sender)
	if err != nil {
		d.logger.Error("failed to load conversation state", "sender", msg.Sender, "error", err)
		return
	}

	decision := Transition(current, msg.Body, msg.Sender, d.opts)

	// Persist before executing actions: a failed delivery or assistant call
	// must not re-trigger the menu on the next message.
	if err := d.persist(ctx, msg.Sender, decision.Next); err != nil {
		d.logger.Error("failed to persist conversation state",
			"sender", msg.Sender,
			"next_state", string(decision.Next),
			"error", err,
		)
	}
	d.metrics.ObserveTransition(string(current), string(decision.Next))

	for _, action := range decision.Actions {
		d.execute(ctx, msg.Sender, action)
	}
}

func (d *Dispatcher) persist(ctx context.Context, sender string, next State) error {
	if next == StateUnset {
		return d.store.Reset(ctx, sender)
	}
	return d.store.Set(ctx, sender, next)
}

// execute performs one outbound action. Failures are logged and never abort
// the remaining actions.
func (d *Dispatcher) execute(ctx context.Context, sender string, action Action) {
	switch action.Kind {
	case ActionReply:
		d.sendReply(ctx, sender, action.Text)
	case ActionNotifyOwner:
		err := d.notifyOwner(ctx, action.To, action.Text)
		d.metrics.ObserveOutbound(string(ActionNotifyOwner), err != nil)
		if err != nil {
			d.logger.Error("failed to notify owner", "owner", action.To, "error", err)
		}
	case ActionAskAssistant:
		d.sendReply(ctx, sender, d.askAssistant(ctx, sender, action.Prompt))
	default:
		d.logger.Warn("unknown outbound action", "kind", string(action.Kind))
	}
}

func (d *Dispatcher) sendReply(ctx context.Context, sender, text string) {
	err := d.messenger.SendMessage(ctx, sender, text)
	d.metrics.ObserveOutbound(string(ActionReply), err != nil)
	if err != nil {
		d.logger.Error("failed to send reply", "sender", sender, "error", err)
	}
}

func (d *Dispatcher) notifyOwner(ctx context.Context, owner, text string) error {
	if d.notifier == nil {
		return d.messenger.SendMessage(ctx, owner, text)
	}
	return d.notifier.NotifyOwner(ctx, owner, text)
}

// askAssistant resolves an ask_assistant action into reply text. Any failure,
// timeout and safety blocks included, yields the fixed fallback apology; the
// cause is only logged.
func (d *Dispatcher) askAssistant(ctx context.Context, sender, prompt string) string {
	if d.llm == nil {
		d.logger.Error("assistant requested but no LLM client configured", "sender", sender)
		return AssistantFallbackText()
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.llm.Complete(cctx, LLMRequest{
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   defaultAssistantMaxTokens,
		Temperature: 0.7,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		status := "error"
		switch {
		case IsSafetyBlocked(err):
			status = "safety_blocked"
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		}
		d.metrics.ObserveAssistant(status, elapsed)
		d.logger.Error("assistant call failed",
			"sender", sender,
			"status", status,
			"error", err,
		)
		return AssistantFallbackText()
	}

	d.metrics.ObserveAssistant("ok", elapsed)
	return ComposeAssistantReply(resp.Text, d.opts.ReplySignature)
}

// lockSender acquires the per-sender mutex, creating it on first contact.
func (d *Dispatcher) lockSender(sender string) func() {
	d.mu.Lock()
	m, ok := d.senders[sender]
	if !ok {
		m = &sync.Mutex{}
		d.senders[sender] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}
