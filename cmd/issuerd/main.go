// Command issuerd runs the Issuer daemon: it signs client certificates and
// serves its public key, persisting issued certificates to Postgres for
// audit (spec §4.4, §6.2).
package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/healthcheck"

	"github.com/nanomoni/nanomoni/chancrypto"
	"github.com/nanomoni/nanomoni/config"
	"github.com/nanomoni/nanomoni/issuer"
	"github.com/nanomoni/nanomoni/lnlog"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[issuerd] %v\n", err)
	os.Exit(1)
}

func loadPrivateKey(path string) (*chancrypto.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("private key file is not PEM-encoded")
	}

	rawKey := block.Bytes
	if _, err := x509.ParsePKCS8PrivateKey(rawKey); err == nil {
		return nil, fmt.Errorf("issuer private key must be a raw secp256k1 scalar, not PKCS8")
	}

	return chancrypto.PrivateKeyFromBytes(rawKey), nil
}

func main() {
	var cfg config.IssuerConfig
	if _, err := flags.Parse(&cfg); err != nil {
		os.Exit(1)
	}

	logger, closeLog, err := lnlog.Setup(cfg.LogDir, "ISSR", cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer closeLog()

	key, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		fatal(fmt.Errorf("load issuer private key: %w", err))
	}

	reg, err := issuer.OpenRegistry(cfg.DatabaseDSN, cfg.MigrationsPath)
	if err != nil {
		fatal(fmt.Errorf("open client registry: %w", err))
	}
	defer reg.Close()

	svc := issuer.NewService(key, reg, cfg.CertificateTTL)
	handler := issuer.NewHandler(svc)

	dbHealth := healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{
			healthcheck.NewObservation(
				"registry database reachable",
				func() error {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return reg.Ping(ctx)
				},
				time.Minute,
				5*time.Second,
				0,
				3,
			),
		},
		Shutdown: func(format string, params ...interface{}) {
			logger.Errorf(format, params...)
		},
	})
	if err := dbHealth.Start(); err != nil {
		fatal(fmt.Errorf("start health monitor: %w", err))
	}
	defer dbHealth.Stop()

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: handler.Router()}
	go func() {
		logger.Infof("issuerd listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server exited: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Infof("issuerd shutting down")
	httpSrv.Close()
}
