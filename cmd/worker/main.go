// Worker di belakang API: konsumsi event settle/gagal untuk refresh cache
// status transaksi dan nulis audit log terstruktur.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/config"
	kafkax "github.com/ariefcatur/channel-market.git/internal/kafka"
	"github.com/ariefcatur/channel-market.git/internal/ledger"
	"github.com/ariefcatur/channel-market.git/internal/logx"
	"github.com/ariefcatur/channel-market.git/internal/redisx"
	"github.com/ariefcatur/channel-market.git/internal/settlement"
)

type auditor struct {
	redis *redis.Client
	log   *zap.Logger
}

// handle dipasang untuk topic settled dan failed sekaligus; event yang sudah
// pernah diproses di-skip via dedup key redis.
func (a *auditor) handle(ctx context.Context, m kafkago.Message) error {
	var env settlement.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "settlement-worker", env.EventID)
	if exists, _ := redisx.Exists(ctx, a.redis, dkey); exists {
		return nil
	}
	_ = a.redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	switch env.EventType {
	case settlement.EventPaymentSettled:
		p, err := kafkax.UnwrapPayload[settlement.PaymentSettledPayload](env.Payload)
		if err != nil {
			return err
		}
		key := fmt.Sprintf(redisx.KeyTxStatus, p.TransactionID)
		_ = a.redis.Set(ctx, key, string(ledger.StatusSuccess), redisx.TTLStatusCache).Err()
		a.log.Info("payment_settled",
			zap.String("transaction_id", p.TransactionID),
			zap.String("user_id", p.UserID),
			zap.Float64("amount", p.Amount),
			zap.Strings("channel_ids", p.ChannelIDs),
			zap.Int64("sold_marked", p.SoldMarked))
	case settlement.EventPaymentFailed:
		p, err := kafkax.UnwrapPayload[settlement.PaymentFailedPayload](env.Payload)
		if err != nil {
			return err
		}
		key := fmt.Sprintf(redisx.KeyTxStatus, p.TransactionID)
		_ = a.redis.Set(ctx, key, string(ledger.StatusFailed), redisx.TTLStatusCache).Err()
		a.log.Info("payment_failed",
			zap.String("transaction_id", p.TransactionID),
			zap.String("user_id", p.UserID),
			zap.String("code", p.Code))
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg := config.LoadCore()

	log := logx.New(cfg.ServiceName + "-worker")
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	a := &auditor{redis: rdb, log: log}

	group := getenv("WORKER_GROUP", "settlement-worker")
	workers := mustAtoi(os.Getenv("WORKER_COUNT"), 4)

	for _, topic := range []string{settlement.TopicPaymentSettled, settlement.TopicPaymentFailed} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers, log)
		go func(topic string) {
			log.Info("consumer started", zap.String("group", group), zap.String("topic", topic))
			if err := cons.Start(ctx, a.handle); err != nil {
				log.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down consumers")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
