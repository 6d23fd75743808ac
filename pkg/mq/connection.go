package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"

	// HeaderTraceID 透传 trace_id 的消息头
	HeaderTraceID = "x-trace-id"

	heartbeat = 10 * time.Second
)

// dial 建立连接，连接名会出现在 RabbitMQ 管理界面里
func dial(url, name string) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	if name != "" {
		props.SetClientConnectionName(name)
	}
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// openChannel 打开连接和 channel，并声明 events 与死信两个 exchange。
// 出错时已打开的资源会被关闭。
func openChannel(url, name string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := dial(url, name)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	return conn, ch, nil
}

// declareExchange 声明持久化的 topic exchange
func declareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil)
}
