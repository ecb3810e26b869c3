package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport"
	"github.com/IanOtollo/whatsapp-ai-bot/pkg/logging"
)

type sentMessage struct {
	To   string
	Body string
}

type stubMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *stubMessenger) SendMessage(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{To: to, Body: body})
	return nil
}

func (m *stubMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

type stubLLMClient struct {
	mu    sync.Mutex
	resp  LLMResponse
	err   error
	calls int
}

func (c *stubLLMClient) Complete(_ context.Context, _ LLMRequest) (LLMResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return LLMResponse{}, c.err
	}
	return c.resp, nil
}

func (c *stubLLMClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// slowLLMClient blocks until the call's context is cancelled.
type slowLLMClient struct{}

func (c *slowLLMClient) Complete(ctx context.Context, _ LLMRequest) (LLMResponse, error) {
	<-ctx.Done()
	return LLMResponse{}, ctx.Err()
}

type recordingNotifier struct {
	mu       sync.Mutex
	notified []sentMessage
}

func (n *recordingNotifier) NotifyOwner(_ context.Context, recipient, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, sentMessage{To: recipient, Body: text})
	return nil
}

const testSender = "15557770123@s.whatsapp.net"

func newTestDispatcher(t *testing.T, store StateStore, llm LLMClient, messenger transport.Messenger, notifier OwnerNotifier, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	return NewDispatcher(store, llm, messenger, notifier, RouterOptions{
		Owners:        []string{"15551230001@s.whatsapp.net"},
		PersonaPrompt: "You are a helpful shop assistant.",
	}, logging.Default(), opts...)
}

func TestDispatcherShowsMenuOnFirstContact(t *testing.T) {
	store := NewMemoryStateStore()
	messenger := &stubMessenger{}
	d := newTestDispatcher(t, store, nil, messenger, nil)

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "hello"})

	if state, _ := store.Get(context.Background(), testSender); state != StateMenu {
		t.Fatalf("expected menu state, got %q", state)
	}
	sent := messenger.messages()
	if len(sent) != 1 || sent[0].To != testSender {
		t.Fatalf("expected one reply to the sender, got %#v", sent)
	}
	if !strings.Contains(sent[0].Body, "1") {
		t.Fatalf("expected menu text, got %q", sent[0].Body)
	}
}

func TestDispatcherFiltersSenders(t *testing.T) {
	tests := []struct {
		name   string
		msg    transport.Message
		opts   []DispatcherOption
		sender string
	}{
		{"owner", transport.Message{Sender: "15551230001@s.whatsapp.net", Body: "hi"}, nil, "15551230001@s.whatsapp.net"},
		{"group flag", transport.Message{Sender: "120363abc@s.whatsapp.net", Body: "hi", IsGroup: true}, nil, "120363abc@s.whatsapp.net"},
		{"group suffix", transport.Message{Sender: "120363abc@g.us", Body: "hi"}, nil, "120363abc@g.us"},
		{"excluded", transport.Message{Sender: "15559990000@s.whatsapp.net", Body: "hi"},
			[]DispatcherOption{WithExcludedSenders([]string{"15559990000"})}, "15559990000@s.whatsapp.net"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStateStore()
			messenger := &stubMessenger{}
			d := newTestDispatcher(t, store, nil, messenger, nil, tt.opts...)

			d.Handle(context.Background(), tt.msg)

			if sent := messenger.messages(); len(sent) != 0 {
				t.Fatalf("filtered sender should get no replies, got %#v", sent)
			}
			if state, _ := store.Get(context.Background(), tt.sender); state != StateUnset {
				t.Fatalf("filtered sender should cause no state mutation, got %q", state)
			}
		})
	}
}

func TestDispatcherFilteredSenderCannotReset(t *testing.T) {
	store := NewMemoryStateStore()
	_ = store.Set(context.Background(), "15551230001@s.whatsapp.net", StateAI)
	messenger := &stubMessenger{}
	d := newTestDispatcher(t, store, nil, messenger, nil)

	d.Handle(context.Background(), transport.Message{Sender: "15551230001@s.whatsapp.net", Body: "!reset"})

	if state, _ := store.Get(context.Background(), "15551230001@s.whatsapp.net"); state != StateAI {
		t.Fatalf("owner reset should be filtered before the state machine, got %q", state)
	}
	if sent := messenger.messages(); len(sent) != 0 {
		t.Fatalf("expected no replies, got %#v", sent)
	}
}

func TestDispatcherDirectHandoffNotifiesOwner(t *testing.T) {
	store := NewMemoryStateStore()
	_ = store.Set(context.Background(), testSender, StateMenu)
	messenger := &stubMessenger{}
	notifier := &recordingNotifier{}
	d := newTestDispatcher(t, store, nil, messenger, notifier)

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "1"})

	if state, _ := store.Get(context.Background(), testSender); state != StateDirect {
		t.Fatalf("expected direct state, got %q", state)
	}
	if sent := messenger.messages(); len(sent) != 1 {
		t.Fatalf("expected exactly one ack reply, got %#v", sent)
	}
	if len(notifier.notified) != 1 || notifier.notified[0].To != "15551230001@s.whatsapp.net" {
		t.Fatalf("expected one owner notification, got %#v", notifier.notified)
	}
	if !strings.Contains(notifier.notified[0].Body, "15557770123") {
		t.Fatalf("notification should name the contact, got %q", notifier.notified[0].Body)
	}

	// Follow-up messages are left for the human, no automated reply.
	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "are you there?"})
	if sent := messenger.messages(); len(sent) != 1 {
		t.Fatalf("direct state must stay silent, got %#v", sent)
	}
}

func TestDispatcherResetCommand(t *testing.T) {
	store := NewMemoryStateStore()
	_ = store.Set(context.Background(), testSender, StateAI)
	messenger := &stubMessenger{}
	d := newTestDispatcher(t, store, &stubLLMClient{}, messenger, nil)

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "  !ReSeT "})

	if state, _ := store.Get(context.Background(), testSender); state != StateUnset {
		t.Fatalf("expected unset after reset, got %q", state)
	}
	sent := messenger.messages()
	if len(sent) != 1 || sent[0].Body != resetAckText {
		t.Fatalf("expected single reset ack, got %#v", sent)
	}
}

func TestDispatcherAssistantSuccess(t *testing.T) {
	store := NewMemoryStateStore()
	_ = store.Set(context.Background(), testSender, StateAI)
	messenger := &stubMessenger{}
	llm := &stubLLMClient{resp: LLMResponse{Text: "  We open at 9am.  "}}
	d := NewDispatcher(store, llm, messenger, nil, RouterOptions{
		PersonaPrompt:  "persona",
		ReplySignature: "— ShopBot",
	}, logging.Default())

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "when do you open?"})

	if state, _ := store.Get(context.Background(), testSender); state != StateAI {
		t.Fatalf("expected to stay in ai state, got %q", state)
	}
	sent := messenger.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one reply, got %#v", sent)
	}
	if sent[0].Body != "We open at 9am.\n\n— ShopBot" {
		t.Fatalf("expected trimmed text plus signature, got %q", sent[0].Body)
	}
	if llm.callCount() != 1 {
		t.Fatalf("expected one assistant call, got %d", llm.callCount())
	}
}

func TestDispatcherAssistantFailureFallsBack(t *testing.T) {
	for _, llmErr := range []error{
		errors.New("provider exploded"),
		&SafetyBlockedError{Reason: "prompt blocked"},
	} {
		store := NewMemoryStateStore()
		_ = store.Set(context.Background(), testSender, StateAI)
		messenger := &stubMessenger{}
		d := newTestDispatcher(t, store, &stubLLMClient{err: llmErr}, messenger, nil)

		d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "hi"})

		if state, _ := store.Get(context.Background(), testSender); state != StateAI {
			t.Fatalf("assistant failure must not corrupt state, got %q", state)
		}
		sent := messenger.messages()
		if len(sent) != 1 || sent[0].Body != assistantFallbackText {
			t.Fatalf("expected fallback apology, got %#v", sent)
		}
	}
}

func TestDispatcherAssistantTimeoutFallsBack(t *testing.T) {
	store := NewMemoryStateStore()
	_ = store.Set(context.Background(), testSender, StateAI)
	messenger := &stubMessenger{}
	d := newTestDispatcher(t, store, &slowLLMClient{}, messenger, nil,
		WithAssistantTimeout(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "hi"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("assistant timeout did not bound the call")
	}

	sent := messenger.messages()
	if len(sent) != 1 || sent[0].Body != assistantFallbackText {
		t.Fatalf("expected fallback apology on timeout, got %#v", sent)
	}
	if state, _ := store.Get(context.Background(), testSender); state != StateAI {
		t.Fatalf("timeout must not corrupt state, got %q", state)
	}
}

func TestDispatcherStatePersistsWhenDeliveryFails(t *testing.T) {
	store := NewMemoryStateStore()
	messenger := &stubMessenger{err: errors.New("socket closed")}
	d := newTestDispatcher(t, store, nil, messenger, nil)

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "hello"})

	if state, _ := store.Get(context.Background(), testSender); state != StateMenu {
		t.Fatalf("delivery failure must not roll back the transition, got %q", state)
	}
}

func TestDispatcherDeliveryFailureDoesNotAbortRemainingActions(t *testing.T) {
	store := NewMemoryStateStore()
	_ = store.Set(context.Background(), testSender, StateMenu)
	messenger := &stubMessenger{err: errors.New("socket closed")}
	notifier := &recordingNotifier{}
	d := newTestDispatcher(t, store, nil, messenger, notifier)

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "1"})

	if len(notifier.notified) != 1 {
		t.Fatalf("owner notification should still run after a failed reply, got %#v", notifier.notified)
	}
}

type panickyMessenger struct{}

func (panickyMessenger) SendMessage(context.Context, string, string) error {
	panic("transport exploded")
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	store := NewMemoryStateStore()
	d := newTestDispatcher(t, store, nil, panickyMessenger{}, nil)

	// Must not propagate.
	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "hello"})

	if state, _ := store.Get(context.Background(), testSender); state != StateMenu {
		t.Fatalf("state should persist before the panicking delivery, got %q", state)
	}
}

func TestDispatcherConcurrentSendersAreIsolated(t *testing.T) {
	store := NewMemoryStateStore()
	messenger := &stubMessenger{}
	d := newTestDispatcher(t, store, &stubLLMClient{resp: LLMResponse{Text: "ok"}}, messenger, nil)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := fmt.Sprintf("1555000%04d@s.whatsapp.net", i)
			d.Handle(context.Background(), transport.Message{Sender: sender, Body: "hello"})
			d.Handle(context.Background(), transport.Message{Sender: sender, Body: "2"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 30; i++ {
		sender := fmt.Sprintf("1555000%04d@s.whatsapp.net", i)
		if state, _ := store.Get(context.Background(), sender); state != StateAI {
			t.Fatalf("sender %s ended in %q, states leaked across senders", sender, state)
		}
	}
}

func TestDispatcherSerializesOneSender(t *testing.T) {
	store := NewMemoryStateStore()
	messenger := &stubMessenger{}
	d := newTestDispatcher(t, store, nil, messenger, nil)

	// Concurrent first contacts: whichever runs second must observe the menu
	// state written by the first, so exactly one menu is shown.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "hello"})
		}()
	}
	wg.Wait()

	if state, _ := store.Get(context.Background(), testSender); state != StateMenu {
		t.Fatalf("expected menu state, got %q", state)
	}

	var menus int
	for _, m := range messenger.messages() {
		if m.Body == menuText {
			menus++
		}
	}
	if menus != 1 {
		t.Fatalf("lost update: expected exactly one menu reply, got %d", menus)
	}

	d.Handle(context.Background(), transport.Message{Sender: testSender, Body: "2"})
	if state, _ := store.Get(context.Background(), testSender); state != StateAI {
		t.Fatalf("follow-up should see the menu state, got %q", state)
	}
}
