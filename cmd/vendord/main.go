// Command vendord runs the Vendor daemon: it serves the HTTP payment-channel
// surface (spec §6.1) backed by a local channeldb, verifying certificates
// against an Issuer reached over HTTP.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/config"
	"github.com/nanomoni/nanomoni/core"
	"github.com/nanomoni/nanomoni/keycache"
	"github.com/nanomoni/nanomoni/lnlog"
	"github.com/nanomoni/nanomoni/vendorsvc"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[vendord] %v\n", err)
	os.Exit(1)
}

func main() {
	var cfg config.VendorConfig
	if _, err := flags.Parse(&cfg); err != nil {
		os.Exit(1)
	}

	logger, closeLog, err := lnlog.Setup(cfg.LogDir, "VNDR", cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer closeLog()
	channeldb.SetLogger(lnlog.SubLogger("CHDB", cfg.LogLevel))
	core.SetLogger(lnlog.SubLogger("CORE", cfg.LogLevel))
	vendorsvc.SetLogger(logger)

	store, err := channeldb.Open(filepath.Join(cfg.DataDir, "channel.db"))
	if err != nil {
		fatal(fmt.Errorf("open channel database: %w", err))
	}
	defer store.Close()

	issuerURL := cfg.IssuerURL
	fetchIssuerKey := func() (*chancrypto.PublicKey, error) {
		resp, err := http.Get(issuerURL + "/issuer/public_key")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var payload struct {
			PublicKeyB64 string `json:"public_key_b64"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, err
		}
		der, err := base64.StdEncoding.DecodeString(payload.PublicKeyB64)
		if err != nil {
			return nil, err
		}
		return chancrypto.ParsePublicKeyDER(der)
	}

	issuerCache := keycache.New(fetchIssuerKey, cfg.IssuerKeyRefreshInterval)
	issuerCache.Start()
	defer issuerCache.Stop()

	issuerHealth := healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{
			healthcheck.NewObservation(
				"issuer reachable",
				func() error {
					_, err := fetchIssuerKey()
					return err
				},
				cfg.IssuerKeyRefreshInterval,
				10*time.Second,
				0,
				3,
			),
		},
		Shutdown: func(format string, params ...interface{}) {
			logger.Errorf(format, params...)
		},
	})
	if err := issuerHealth.Start(); err != nil {
		fatal(fmt.Errorf("start health monitor: %w", err))
	}
	defer issuerHealth.Stop()

	auditor := core.NewAuditor(cfg.AuditorThreshold, cfg.AuditorWindow)

	srv, err := vendorsvc.New(vendorsvc.Config{
		VendorID:   cfg.VendorID,
		ListenAddr: cfg.ListenAddr,
		Store:      store,
		Issuer:     issuerCache,
		Auditor:    auditor,
	})
	if err != nil {
		fatal(fmt.Errorf("build vendor server: %w", err))
	}
	if err := srv.Start(); err != nil {
		fatal(fmt.Errorf("start vendor server: %w", err))
	}

	if cfg.MetricsListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsListenAddr, mux); err != nil {
				logger.Warnf("metrics server exited: %v", err)
			}
		}()
	}

	logger.Infof("vendord ready: vendor_id=%s listen=%s", cfg.VendorID, cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Infof("vendord shutting down")
	if err := srv.Stop(); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
}
