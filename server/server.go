// Package server is the BlockchainKit backend: the /api JSON surface, the
// websocket event feed, and the embedded front-end.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockchainkit/blockchainkit/server/auth"
	"github.com/blockchainkit/blockchainkit/server/eventhub"
	"github.com/blockchainkit/blockchainkit/server/storedb"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	HotReloadWWW bool
	Log          logs.Log
	DB           *storedb.StoreDB

	cfg Config

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	auth       *auth.AuthServer
	hub        *eventhub.Hub
	chain      *eventhub.SimulatedChain
}

func NewServer(logger logs.Log, cfg Config) (*Server, error) {
	cfg.applyDefaults()
	db, err := storedb.NewStoreDB(logger, cfg.DB)
	if err != nil {
		return nil, err
	}
	authServer := auth.NewAuthServer(db, logger)
	chain := eventhub.NewSimulatedChain(logger, time.Duration(cfg.BlockIntervalSeconds)*time.Second)
	hub := eventhub.NewHub(logger, authServer, chain)
	hub.Run()

	s := &Server{
		Log:   logger,
		DB:    db,
		cfg:   cfg,
		auth:  authServer,
		hub:   hub,
		chain: chain,
	}
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	if s.HotReloadWWW {
		// HotReloadWWW is set after construction, so rebuild the routes to
		// pick up the on-disk static file branch
		if err := s.setupHttpRoutes(); err != nil {
			return err
		}
	}
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v', shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.chain.Stop()
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("Shutdown complete, with error: %v", err)
			s.Log.Close()
			return
		}
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
}

// HTTPAddr returns the configured listen address, eg ":8080"
func (s *Server) HTTPAddr() string {
	return fmt.Sprintf(":%v", s.cfg.HTTPPort)
}
