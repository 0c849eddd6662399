// Command jms-trace-demo sends messages through a traced connection and
// consumes them with a traced listener, over the in-memory broker or Redis
// Streams.
//
// Configuration is read from the environment, see internal/config.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/zerofox-oss/go-jms"
	"github.com/zerofox-oss/go-jms/backends/redis"
	"github.com/zerofox-oss/go-jms/internal/config"
	"github.com/zerofox-oss/go-jms/internal/telemetry"
	"github.com/zerofox-oss/go-jms/mem"
	"github.com/zerofox-oss/go-jms/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[ERROR] %s", err)
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("[ERROR] %s", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("demo failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp, err := telemetry.NewTracerProvider(ctx, cfg.ServiceName, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("could not flush spans", zap.Error(err))
		}
	}()

	propagator, err := telemetry.NewPropagator(cfg.Tracing.Propagators)
	if err != nil {
		return err
	}

	t := tracing.NewTracer(
		tracing.WithTracerProvider(tp),
		tracing.WithPropagator(propagator),
		tracing.WithLogger(logger),
		tracing.WithTraceInLog(cfg.Tracing.TraceInLog),
		tracing.WithOpenCensus(cfg.Tracing.OpenCensus),
	)

	factory, closeFactory, err := newConnectionFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFactory()

	conn, err := tracing.ConnectionFactory(factory, t).CreateConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetExceptionListener(jms.ExceptionFunc(func(err error) {
		logger.Error("connection error", zap.Error(err))
	}))

	sess, err := conn.CreateSession()
	if err != nil {
		return err
	}

	queue := jms.Queue(cfg.Demo.Queue)
	consumer, err := sess.CreateConsumer(queue)
	if err != nil {
		return err
	}
	producer, err := sess.CreateProducer(queue)
	if err != nil {
		return err
	}

	var received atomic.Int64
	done := make(chan struct{})
	err = consumer.SetListener(jms.ListenerFunc(func(ctx context.Context, m *jms.Message) error {
		body, err := jms.DumpBody(m)
		if err != nil {
			return err
		}
		tracing.Logger(ctx).Info("received message",
			zap.String("message_id", m.ID),
			zap.ByteString("body", body),
		)
		if received.Add(1) == int64(cfg.Demo.Messages) {
			close(done)
		}
		return nil
	}))
	if err != nil {
		return err
	}
	if err := conn.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Demo.Concurrency + 1)

	g.Go(func() error {
		if cfg.Demo.Messages == 0 {
			return nil
		}
		select {
		case <-done:
			logger.Info("received all messages", zap.Int64("count", received.Load()))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	for i := 0; i < cfg.Demo.Messages; i++ {
		i := i
		g.Go(func() error {
			m := jms.NewTextMessage(fmt.Sprintf("message %d", i))
			if err := m.SetProperty("sequence", i); err != nil {
				return err
			}
			return producer.Send(ctx, m)
		})
	}

	return g.Wait()
}

// newConnectionFactory returns the configured transport and a function
// releasing its resources.
func newConnectionFactory(cfg *config.Config, logger *zap.Logger) (jms.ConnectionFactory, func(), error) {
	switch cfg.Transport {
	case config.TransportRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		f, err := redis.NewConnectionFactory(client,
			redis.WithGroup(cfg.Redis.Group),
			redis.WithBlock(cfg.Redis.Block),
			redis.WithMinIdle(cfg.Redis.MinIdle),
			redis.WithConcurrency(cfg.Demo.Concurrency),
			redis.WithLogger(logger),
		)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return f, func() { client.Close() }, nil
	default:
		b := mem.NewBroker(
			mem.WithLogger(logger),
			mem.WithConcurrency(cfg.Demo.Concurrency),
		)
		return b, func() {}, nil
	}
}
