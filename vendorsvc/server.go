// Package vendorsvc implements the Vendor's HTTP surface (spec §6.1): the
// five payment-channel endpoints, header-based request authentication, and
// the Start/Stop daemon lifecycle around net/http.Server.
package vendorsvc

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/nanomoni/nanomoni/channeldb"
	"github.com/nanomoni/nanomoni/core"
)

var log = btclog.Disabled

// SetLogger assigns the vendorsvc subsystem logger.
func SetLogger(l btclog.Logger) {
	log = l
}

// Server is the main Vendor daemon: it houses the channel store, the
// payword cache table, the Issuer key cache, and the auditor, and serves
// them all over one HTTP listener. Mirrors the teacher's server struct in
// shape (atomic started/shutdown flags, explicit Start/Stop)
// though the Vendor has only one listener where the teacher has many.
type Server struct {
	started  int32
	shutdown int32

	vendorID string
	store    *channeldb.DB
	issuer   core.IssuerKeySource
	auditor  *core.Auditor

	httpServer *http.Server
	listener   net.Listener

	cachesMu sync.Mutex
	caches   map[channeldb.ChannelID]*core.PayWordCache
}

// Config collects the dependencies New needs, grounded on how the teacher's
// newServer constructor takes its wallet/chain/notifier collaborators as
// plain arguments rather than a half-built struct literal.
type Config struct {
	VendorID   string
	ListenAddr string
	Store      *channeldb.DB
	Issuer     core.IssuerKeySource
	Auditor    *core.Auditor
}

// New builds a Server bound to cfg.ListenAddr but does not start serving.
func New(cfg Config) (*Server, error) {
	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		vendorID: cfg.VendorID,
		store:    cfg.Store,
		issuer:   cfg.Issuer,
		auditor:  cfg.Auditor,
		listener: l,
		caches:   make(map[channeldb.ChannelID]*core.PayWordCache),
	}

	s.httpServer = &http.Server{Handler: s.router()}
	return s, nil
}

// Start begins serving HTTP traffic and the auditor's background loop.
// Calling Start twice is a no-op.
func (s *Server) Start() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	if s.auditor != nil {
		if err := s.auditor.Start(); err != nil {
			return err
		}
	}

	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("vendorsvc: http server exited: %v", err)
		}
	}()

	log.Infof("vendorsvc: listening on %v", s.listener.Addr())
	return nil
}

// Stop gracefully shuts the HTTP server and auditor down.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if s.auditor != nil {
		if err := s.auditor.Stop(); err != nil {
			return err
		}
	}
	return nil
}
