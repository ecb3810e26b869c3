package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport"
	"github.com/IanOtollo/whatsapp-ai-bot/pkg/logging"
)

// Handler consumes one inbound message event.
type Handler interface {
	Handle(ctx context.Context, msg transport.Message)
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20 // SQS limit
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll should return.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// Worker consumes inbound message jobs from the queue and invokes the handler.
type Worker struct {
	handler Handler
	queue   Queue
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

// NewWorker wires a queue consumer around the supplied handler.
func NewWorker(handler Handler, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler: handler,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the consumer goroutines. They run until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Wait blocks until all consumer goroutines have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	logger := w.logger.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue receive failed", "error", err)
			// Back off briefly so a broken queue does not spin the CPU.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			w.process(ctx, logger, msg)
		}
	}
}

func (w *Worker) process(ctx context.Context, logger *logging.Logger, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		logger.Error("discarding malformed queue payload", "message_id", msg.ID, "error", err)
		w.delete(logger, msg)
		return
	}

	switch payload.Kind {
	case jobTypeInbound:
		w.handler.Handle(ctx, payload.Inbound)
	default:
		logger.Warn("discarding unknown job kind", "kind", string(payload.Kind), "message_id", msg.ID)
	}

	w.delete(logger, msg)
}

// delete removes the message from the queue. Handling is best-effort, so the
// message is consumed exactly once regardless of what its dispatch produced.
func (w *Worker) delete(logger *logging.Logger, msg queueMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		logger.Error("failed to delete queue message", "message_id", msg.ID, "error", err)
	}
}
