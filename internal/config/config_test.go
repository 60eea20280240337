package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("http_addr=%s", cfg.Server.HTTPAddr)
	}
	if cfg.Auction.Currency != "CRD" || cfg.Auction.MaxTxRetries != 3 {
		t.Fatalf("auction=%+v", cfg.Auction)
	}
	if !cfg.Workers.Enabled || cfg.Workers.SchedulerTick != "@every 1s" {
		t.Fatalf("workers=%+v", cfg.Workers)
	}
	if cfg.Workers.RefundBatchSize != 50 || cfg.Workers.OutboxBatchSize != 100 {
		t.Fatalf("workers=%+v", cfg.Workers)
	}
	if cfg.RateLimit.Window != 10*time.Second || cfg.RateLimit.PerUser != 20 {
		t.Fatalf("rate_limit=%+v", cfg.RateLimit)
	}
	if cfg.DB.Timezone != "UTC" {
		t.Fatalf("db=%+v", cfg.DB)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AH_SERVER_HTTP_ADDR", ":9090")
	t.Setenv("AH_AUCTION_CURRENCY", "PTS")

	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9090" {
		t.Fatalf("http_addr=%s", cfg.Server.HTTPAddr)
	}
	if cfg.Auction.Currency != "PTS" {
		t.Fatalf("currency=%s", cfg.Auction.Currency)
	}
}
