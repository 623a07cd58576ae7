package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// Операторский инструмент: просматривает checkout.dlq и переигрывает
// застрявшие события заказов обратно в рабочий топик. Записи о мёртвых
// компенсациях (CompensationDead) не переигрываются — их разбирает оператор
// вручную, они попадают только в отчёт.
type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// dlqRecord — сообщение в DLQ. Outbox worker пишет сюда упавшие события
// заказов (outbox_id + исходный payload), compensation worker — отчёты о
// мёртвых компенсациях (task_id + action). Переигрываются только первые.
type dlqRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`

	TaskID string `json:"task_id"`
	Action string `json:"action"`
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	client, err := sarama.NewClient(cfg.brokers, sarama.NewConfig())
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	var producer sarama.SyncProducer
	if cfg.execute {
		producerConfig := sarama.NewConfig()
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Retry.Max = 5
		producerConfig.Producer.Return.Successes = true
		producerConfig.Producer.Compression = sarama.CompressionSnappy
		producerConfig.Producer.Idempotent = true
		producerConfig.Net.MaxOpenRequests = 1

		producer, err = sarama.NewSyncProducer(cfg.brokers, producerConfig)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var processed, replayed, skipped int
	for _, partition := range partitions {
		if processed >= cfg.limit {
			break
		}
		p, r, s, err := processPartition(ctx, cfg, client, consumer, producer, partition, cfg.limit-processed)
		if err != nil {
			return err
		}
		processed += p
		replayed += r
		skipped += s
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": processed,
		"replayed":  replayed,
		"skipped":   skipped,
	}).Info("dlq replay finished")
	return nil
}

func processPartition(
	ctx context.Context,
	cfg config,
	client sarama.Client,
	consumer sarama.Consumer,
	producer sarama.SyncProducer,
	partition int32,
	limit int,
) (processed, replayed, skipped int, err error) {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return 0, 0, 0, nil
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, oldest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for processed < limit {
		select {
		case <-ctx.Done():
			return processed, replayed, skipped, ctx.Err()
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return processed, replayed, skipped, nil
			}
			idleTimer.Reset(cfg.idleTimeout)
			processed++

			replay, ok := buildReplay(msg.Value, cfg.targetTopic)
			if !ok {
				skipped++
				continue
			}

			if cfg.execute {
				if _, _, err := producer.SendMessage(replay); err != nil {
					return processed, replayed, skipped, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				log.WithFields(log.Fields{
					"partition":    msg.Partition,
					"offset":       msg.Offset,
					"target_topic": replay.Topic,
				}).Info("dlq replay candidate")
			}
			replayed++

			if msg.Offset+1 >= newest {
				return processed, replayed, skipped, nil
			}
		case <-idleTimer.C:
			return processed, replayed, skipped, nil
		}
	}
	return processed, replayed, skipped, nil
}

// buildReplay восстанавливает исходное событие заказа из DLQ-записи. В рабочий
// топик уходит тот же payload, что публиковал бы outbox worker; записи о
// мёртвых компенсациях и нераспознанные сообщения пропускаются.
func buildReplay(value []byte, targetTopic string) (*sarama.ProducerMessage, bool) {
	var record dlqRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, false
	}
	if record.TaskID != "" || record.Action != "" {
		return nil, false
	}
	if record.OutboxID == "" || len(record.Payload) == 0 {
		return nil, false
	}

	key := record.AggregateID
	if key == "" {
		key = record.OutboxID
	}
	return &sarama.ProducerMessage{
		Topic:     targetTopic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(record.Payload),
		Timestamp: time.Now().UTC(),
	}, true
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
