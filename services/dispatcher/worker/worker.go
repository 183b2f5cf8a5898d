package worker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmcampos/zapblast/internal/campaign"
	"github.com/dmcampos/zapblast/internal/dispatch"
	"github.com/dmcampos/zapblast/pkg/logx"
	"github.com/dmcampos/zapblast/pkg/rmq"
)

// Worker consumes dispatch jobs and runs batches through the
// dispatcher. A semaphore caps how many campaign batches execute at
// once so a burst of campaigns cannot overload the gateway; within one
// batch sends stay strictly sequential.
type Worker struct {
	Cons       *rmq.Consumer
	Dispatcher *dispatch.Dispatcher
	sem        chan struct{}
}

func New(cons *rmq.Consumer, d *dispatch.Dispatcher, maxConcurrent int) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{
		Cons:       cons,
		Dispatcher: d,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Cons.Consume()
	if err != nil {
		return err
	}
	log := logx.Named("worker")
	log.Infow("worker_started", "queue", w.Cons.Queue, "max_concurrent", cap(w.sem))

	for {
		select {
		case <-ctx.Done():
			// let in-flight batches finish
			for i := 0; i < cap(w.sem); i++ {
				w.sem <- struct{}{}
			}
			log.Infow("worker_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				log.Warnw("consumer_channel_closed")
				return nil
			}
			select {
			case w.sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				continue
			}
			go func(d amqp.Delivery) {
				defer func() { <-w.sem }()
				w.handle(ctx, d)
			}(d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	log := logx.Named("worker")
	start := time.Now()

	var job campaign.DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Warnw("job_unmarshal_error", "error", err)
		_ = d.Ack(false)
		return
	}

	if err := w.Dispatcher.RunBatch(ctx, job); err != nil {
		// infrastructure failure: every dispatch step is idempotent,
		// so redelivery is safe
		log.Errorw("batch_error",
			"campaign_id", job.CampaignID, "error", err,
			"dur", time.Since(start).Seconds(),
		)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
