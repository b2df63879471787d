// Command transfer submits a single balance transfer and waits for a
// terminal status.
package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"substratescope/internal/chain"
	"substratescope/internal/config"
	"substratescope/internal/connection"
	"substratescope/internal/keyring"
	"substratescope/internal/logger"
	"substratescope/internal/txpipe"
)

func main() {
	var (
		phraseFile = flag.String("phrase-file", "", "file containing the sender's recovery phrase")
		dest       = flag.String("dest", "", "destination address")
		amount     = flag.String("amount", "", "amount in base units")
	)
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	zlog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	if *phraseFile == "" || *dest == "" || *amount == "" {
		zlog.Fatal("usage: transfer -phrase-file FILE -dest ADDR -amount UNITS")
	}
	value, ok := new(big.Int).SetString(*amount, 10)
	if !ok || value.Sign() <= 0 {
		zlog.Fatal("amount must be a positive integer in base units")
	}
	raw, err := os.ReadFile(*phraseFile)
	if err != nil {
		zlog.Fatal("phrase file unreadable", zap.Error(err))
	}

	provider := keyring.NewProvider(cfg.Chain.SS58Prefix, nil)
	sender, err := provider.Import(strings.TrimSpace(string(raw)))
	if err != nil {
		zlog.Fatal("phrase rejected", zap.Error(err))
	}

	prefix := cfg.Chain.SS58Prefix
	dialer := func(ctx context.Context, url string) (chain.Client, error) {
		return chain.Dial(ctx, url, prefix)
	}
	manager := connection.NewManager(dialer,
		time.Duration(cfg.Chain.ConnectTimeoutSeconds)*time.Second, zlog)

	ctx := context.Background()
	ep := cfg.Chain.Endpoints[0]
	if err := manager.Connect(ctx, ep); err != nil {
		zlog.Fatal("connect failed", zap.Error(err))
	}
	defer manager.Disconnect()

	call := chain.NewTransferCall(*dest, value)
	pipeline := txpipe.New(manager.Client(), zlog)
	pipeline.SubscribeStatus(func(u txpipe.Update) {
		zlog.Info("status", zap.String("stage", u.Stage.String()),
			zap.String("block", u.BlockHash))
	})

	fee, err := pipeline.EstimateFee(ctx, call, sender.Address())
	if err != nil {
		zlog.Fatal("fee estimation failed", zap.Error(err))
	}
	zlog.Info("estimated",
		zap.String("fee", fee.PartialFee.String()),
		zap.Uint64("weight", fee.Weight))

	receipt, err := pipeline.Submit(ctx, call, sender)
	if err != nil {
		zlog.Fatal("submit failed", zap.Error(err))
	}
	zlog.Info("finalized", zap.String("block", receipt.BlockHash))
}
