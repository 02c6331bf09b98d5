package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/cart"
	"github.com/ariefcatur/channel-market.git/internal/channels"
	"github.com/ariefcatur/channel-market.git/internal/config"
	"github.com/ariefcatur/channel-market.git/internal/httpx"
	kafkax "github.com/ariefcatur/channel-market.git/internal/kafka"
	"github.com/ariefcatur/channel-market.git/internal/ledger"
	"github.com/ariefcatur/channel-market.git/internal/logx"
	"github.com/ariefcatur/channel-market.git/internal/phonepe"
	"github.com/ariefcatur/channel-market.git/internal/postgres"
	"github.com/ariefcatur/channel-market.git/internal/redisx"
	"github.com/ariefcatur/channel-market.git/internal/settlement"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// pakai logger sementara, config gagal = stop
		logx.New("market-api").Fatal("config", zap.Error(err))
	}

	log := logx.New(cfg.ServiceName)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers per topic payment lifecycle
	events := kafkax.NewRouter(cfg.KafkaBrokers, []string{
		settlement.TopicPaymentInitiated,
		settlement.TopicPaymentSettled,
		settlement.TopicPaymentFailed,
	}, 1024, log)
	events.Start(ctx)

	// Repos & services
	channelRepo := &channels.Repo{DB: db}
	cartRepo := &cart.Repo{DB: db, Log: log}
	ledgerRepo := &ledger.Repo{DB: db}
	gateway := phonepe.NewClient(cfg.Gateway, log)
	settle := settlement.NewService(channelRepo, cartRepo, ledgerRepo, gateway, events, log, cfg.ServiceName)

	router := httpx.NewRouter()

	(&httpx.PaymentHandler{Settlement: settle, Ledger: ledgerRepo, Redis: rdb, Log: log}).Register(router)
	(&httpx.CartHandler{Carts: cartRepo, Log: log}).Register(router)
	(&httpx.ChannelsHandler{Channels: channelRepo, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	events.Close()      // tutup inbox -> flush & close writer
	events.WaitClosed() // drain
}
