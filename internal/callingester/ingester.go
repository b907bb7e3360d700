package callingester

import (
	"context"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callingester/batch"
	"github.com/callrelay/callrelay/internal/callingester/configuration"
	"github.com/callrelay/callrelay/internal/callingester/consumer"
	"github.com/callrelay/callrelay/internal/callingester/deadletter"
	"github.com/callrelay/callrelay/internal/callingester/metrics"
	"github.com/callrelay/callrelay/internal/callingester/store"
	"github.com/callrelay/callrelay/internal/common"
	"github.com/callrelay/callrelay/internal/common/app"
	"github.com/callrelay/callrelay/internal/common/database"
	"github.com/callrelay/callrelay/internal/common/logging"
	"github.com/callrelay/callrelay/internal/common/pulsarutils"
	"github.com/callrelay/callrelay/internal/common/util"
)

// Run will create a pipeline that takes call records from Pulsar, buffers them and stores them in
// batches in Postgres. This pipeline will run until a SIGTERM is received, after which whatever is
// still buffered is flushed.
func Run(config *configuration.CallIngesterConfiguration) {
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Info("Call Ingester Starting")
	ctx := app.CreateContextWithShutdown()
	m := metrics.Get()

	db := connectPostgres(ctx, config)
	defer db.Close()

	pulsarClient, pulsarConsumer := subscribe(ctx, config)
	defer pulsarClient.Close()
	defer pulsarConsumer.Close()

	flusher := batch.NewFlusher(
		store.NewPostgresSink(db, m.Metrics),
		config.FlushInterval,
		config.MaxBufferedRecords,
		config.FlushTimeout,
		clock.RealClock{},
		m,
	)
	if config.DeadLetter.Enabled {
		redisClient := redis.NewUniversalClient(&config.DeadLetter.Redis)
		defer util.CloseResource("dead-letter redis", redisClient)
		deadLetters := deadletter.NewRedisStore(redisClient, config.DeadLetter.Stream, config.DeadLetter.MaxLen)
		flusher.OnFlushed(DeadLetterHook(deadLetters, config.AckPolicy, clock.RealClock{}, m))
	}

	c := consumer.New(
		pulsarConsumer,
		flusher,
		batch.NewSizeTrigger(flusher, config.BatchSize),
		config.AckPolicy,
		config.Pulsar.ReceiveTimeout,
		config.Pulsar.BackoffTime,
		m,
	)
	timeTrigger := batch.NewTimeTrigger(flusher, config.TickInterval, clock.RealClock{})

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	if err := RunPipeline(ctx, c, timeTrigger, flusher, config.FlushTimeout); err != nil {
		panic(errors.WithMessage(err, "Error running ingestion pipeline"))
	}
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Info("Call Ingester Stopped")
}

type runner interface {
	Run(ctx context.Context) error
}

// RunPipeline runs the consumer and the time trigger until ctx is done, then makes one final flush
// so that a clean shutdown stores everything that was buffered.
func RunPipeline(ctx context.Context, consumer runner, timeTrigger runner, flusher *batch.Flusher, flushTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return timeTrigger.Run(gctx) })
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	result, flushErr := flusher.RequestFlush(flushCtx, batch.TriggerShutdown)
	if flushErr != nil {
		// Logged by the flusher. The records are gone either way.
		log.Errorf("Final flush of %d records failed", len(result.Batch))
	}
	return err
}

// DeadLetterHook keeps the records of failed batches in the dead-letter store, unless the broker is
// going to redeliver them anyway.
func DeadLetterHook(
	deadLetters *deadletter.RedisStore,
	ackPolicy configuration.AckPolicy,
	clock clock.PassiveClock,
	m *metrics.Metrics,
) batch.FlushHook {
	return func(_ context.Context, result batch.FlushResult) {
		if result.Err == nil {
			return
		}
		if ackPolicy == configuration.AckOnStore && store.IsTransient(result.Err) {
			return
		}
		if err := deadLetters.Add(result.Batch, result.Err, clock.Now()); err != nil {
			logging.WithStacktrace(log.WithField("records", len(result.Batch)), err).
				Error("Failed to dead-letter batch; records are lost")
			return
		}
		m.RecordDeadLettered(len(result.Batch))
		log.WithField("records", len(result.Batch)).Warn("Dead-lettered failed batch")
	}
}

// MigrateDatabase brings the call_records schema up to date.
func MigrateDatabase(ctx context.Context, config *configuration.CallIngesterConfiguration) error {
	db := connectPostgres(ctx, config)
	defer db.Close()
	migrations, err := store.Migrations()
	if err != nil {
		return err
	}
	return database.UpdateDatabase(ctx, db, migrations)
}

func connectPostgres(ctx context.Context, config *configuration.CallIngesterConfiguration) *pgxpool.Pool {
	var db *pgxpool.Pool
	err := retry.Do(
		func() error {
			var err error
			db, err = database.OpenPgxPool(ctx, config.Postgres)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(config.StartupAttempts),
		retry.Delay(config.StartupBackoff),
		retry.OnRetry(func(n uint, err error) {
			logging.WithStacktrace(log.WithField("attempt", n+1), err).Warn("Error connecting to postgres")
		}),
	)
	if err != nil {
		panic(errors.WithMessage(err, "Error opening connection to postgres"))
	}
	return db
}

func subscribe(ctx context.Context, config *configuration.CallIngesterConfiguration) (pulsar.Client, pulsar.Consumer) {
	var client pulsar.Client
	var consumer pulsar.Consumer
	err := retry.Do(
		func() error {
			var err error
			client, err = pulsarutils.NewPulsarClient(&config.Pulsar)
			if err != nil {
				return err
			}
			consumer, err = client.Subscribe(pulsar.ConsumerOptions{
				Topic:                       config.Pulsar.CallRecordsTopic,
				SubscriptionName:            config.SubscriptionName,
				Type:                        config.SubscriptionType,
				ReceiverQueueSize:           config.PrefetchBudget,
				SubscriptionInitialPosition: pulsar.SubscriptionPositionEarliest,
				NackRedeliveryDelay:         config.Pulsar.BackoffTime,
			})
			if err != nil {
				client.Close()
				return errors.WithStack(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(config.StartupAttempts),
		retry.Delay(config.StartupBackoff),
		retry.OnRetry(func(n uint, err error) {
			logging.WithStacktrace(log.WithField("attempt", n+1), err).Warn("Error subscribing to pulsar")
		}),
	)
	if err != nil {
		panic(errors.WithMessage(err, "Error creating pulsar consumer"))
	}
	return client, consumer
}
