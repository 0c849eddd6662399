package tracing_test

import (
	"context"
	"fmt"

	"github.com/zerofox-oss/go-jms"
	"github.com/zerofox-oss/go-jms/mem"
	"github.com/zerofox-oss/go-jms/tracing"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func ExampleConnectionFactory() {
	ctx := context.Background()

	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	defer tp.Shutdown(ctx)

	t := tracing.NewTracer(tracing.WithTracerProvider(tp))
	conn, err := tracing.ConnectionFactory(mem.NewBroker(), t).CreateConnection(ctx)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	sess, _ := conn.CreateSession()
	producer, _ := sess.CreateProducer(jms.Queue("greetings"))
	consumer, _ := sess.CreateConsumer(jms.Queue("greetings"))

	if err := producer.Send(ctx, jms.NewTextMessage("hello")); err != nil {
		panic(err)
	}

	m, err := consumer.Receive(ctx)
	if err != nil {
		panic(err)
	}
	body, _ := jms.DumpBody(m)
	fmt.Println(string(body))

	for _, s := range sr.Ended() {
		fmt.Println(s.Name(), s.SpanKind())
	}

	// Output:
	// hello
	// send producer
	// receive consumer
}
