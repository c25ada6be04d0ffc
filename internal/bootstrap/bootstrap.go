// Package bootstrap holds the wiring shared by every CLI command.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
	"github.com/jmehdipour/asset-lifecycle/internal/config"
	"github.com/jmehdipour/asset-lifecycle/internal/kafka"
	"github.com/jmehdipour/asset-lifecycle/internal/logger"
	"github.com/jmehdipour/asset-lifecycle/internal/rabbitmq"
)

// LoadDotEnv loads ./.env into the environment when present. Real env vars win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads config from the root --config flag and builds the logger.
func Load(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log.With(zap.String("cmd", cmd.Name())), nil
}

// SignalContext is cancelled on SIGINT/SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func kafkaConfig(c config.KafkaConfig) kafka.Config {
	return kafka.Config{
		Brokers:        c.Brokers,
		Topic:          c.Topic,
		GroupID:        c.GroupID,
		MinBytes:       c.MinBytes,
		MaxBytes:       c.MaxBytes,
		CommitInterval: time.Duration(c.CommitInterval) * time.Millisecond,
		WriteTimeout:   c.WriteTimeout,
	}
}

func rabbitConfig(c config.RabbitMQConfig) rabbitmq.Config {
	return rabbitmq.Config{
		URL:           c.URL,
		Exchange:      c.Exchange,
		Queue:         c.Queue,
		PrefetchCount: c.PrefetchCount,
	}
}

// NewProducer returns the relay's broker producer for broker.driver.
func NewProducer(cfg config.BrokerConfig) (broker.Producer, error) {
	switch cfg.Driver {
	case "kafka":
		return kafka.NewProducerFromConfig(kafkaConfig(cfg.Kafka)), nil
	case "rabbitmq":
		return rabbitmq.NewProducer(rabbitConfig(cfg.RabbitMQ)), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}

// NewSubscriber returns the consumer's broker subscription for broker.driver.
func NewSubscriber(cfg config.BrokerConfig, tag string) (broker.Subscriber, error) {
	switch cfg.Driver {
	case "kafka":
		return kafka.NewConsumerFromConfig(kafkaConfig(cfg.Kafka)), nil
	case "rabbitmq":
		return rabbitmq.NewConsumer(rabbitConfig(cfg.RabbitMQ), tag), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
