// Package config defines the typed configuration structs for the vendord
// and issuerd daemons, parsed with jessevdk/go-flags the way the corpus
// parses its own daemon configuration: struct tags double as both flag
// definitions and config-file field names, with long/short flag names and
// defaults declared inline.
package config

import (
	"time"
)

// VendorConfig configures the Vendor HTTP service.
type VendorConfig struct {
	VendorID string `long:"vendorid" description:"identifier this vendor reports in opened channels" required:"true"`

	ListenAddr string `long:"listenaddr" description:"address the HTTP API listens on" default:"0.0.0.0:8080"`

	DataDir string `long:"datadir" description:"directory holding the channel database" default:"./data"`

	IssuerURL string `long:"issuerurl" description:"base URL of the Issuer's HTTP API" required:"true"`

	IssuerKeyRefreshInterval time.Duration `long:"issuerkeyrefresh" description:"interval between background Issuer public key refreshes; 0 disables the background loop" default:"1h"`

	AuditorThreshold int `long:"auditorthreshold" description:"rejections within a window that trigger an auditor warning for a channel" default:"5"`

	AuditorWindow time.Duration `long:"auditorwindow" description:"interval after which the auditor resets its per-channel rejection counts" default:"10m"`

	MetricsListenAddr string `long:"metricslistenaddr" description:"address the Prometheus /metrics endpoint listens on; empty disables it" default:"0.0.0.0:9090"`

	LogDir   string `long:"logdir" description:"directory for rotated log files" default:"./logs"`
	LogLevel string `long:"loglevel" description:"log level: trace|debug|info|warn|error|critical" default:"info"`
}

// IssuerConfig configures the Issuer service: certificate issuance and the
// client registry.
type IssuerConfig struct {
	ListenAddr string `long:"listenaddr" description:"address the HTTP API listens on" default:"0.0.0.0:8090"`

	PrivateKeyPath string `long:"privatekeypath" description:"path to the Issuer's secp256k1 private key: a raw 32-byte scalar inside a PEM block (PKCS8 is rejected)" required:"true"`

	DatabaseDSN string `long:"databasedsn" description:"PostgreSQL connection string for the client registry" required:"true"`

	MigrationsPath string `long:"migrationspath" description:"filesystem path to the golang-migrate migration files" default:"./migrations"`

	CertificateTTL time.Duration `long:"certificatettl" description:"validity window granted to newly issued certificates" default:"24h"`

	LogDir   string `long:"logdir" description:"directory for rotated log files" default:"./logs"`
	LogLevel string `long:"loglevel" description:"log level: trace|debug|info|warn|error|critical" default:"info"`
}
