package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ragchat/internal/model"
	"ragchat/internal/platform/rabbitmq"
	"ragchat/internal/repository"
)

var errEmptyBatch = errors.New("turn batch has no turns")

// TurnPersistWorker drains the chat exchange queue into the database.
type TurnPersistWorker struct {
	conn      *amqp.Connection
	repo      *repository.ChatTurnRepository
	queueName string
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnPersistWorker(conn *amqp.Connection, repo *repository.ChatTurnRepository, queueName string, log *zap.Logger) *TurnPersistWorker {
	return &TurnPersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		log:       log.Named("turn-worker"),
	}
}

func (w *TurnPersistWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("delivery channel closed")
					return
				}
				if err := w.persist(workerCtx, d.Body); err != nil {
					w.log.Error("persist chat turns failed", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.log.Info("worker started", zap.String("queue", w.queueName))
	return nil
}

func (w *TurnPersistWorker) persist(ctx context.Context, body []byte) error {
	var batch model.TurnBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return fmt.Errorf("decode turn batch failed: %w", err)
	}
	if len(batch.Turns) == 0 {
		return errEmptyBatch
	}
	for i := range batch.Turns {
		// ids are assigned by the database
		batch.Turns[i].ID = 0
		if batch.Turns[i].SessionID == "" {
			batch.Turns[i].SessionID = batch.SessionID
		}
	}
	return w.repo.CreateBatch(ctx, batch.Turns)
}

func (w *TurnPersistWorker) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
