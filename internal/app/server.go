package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	intrnl "sharehub/internal"
	"sharehub/internal/storage"
)

// ServerHandle represents a running hub instance.
type ServerHandle struct {
	addr      string
	adminAddr string
	listener  net.Listener
	admin     *http.Server
	store     *storage.Store
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// Addr returns the actual protocol listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// AdminAddr returns the monitoring listen address, or "" when disabled.
func (h *ServerHandle) AdminAddr() string {
	return h.adminAddr
}

// Stop triggers shutdown: the accept loop exits, every connection closes,
// and all workers are joined before Wait returns.
func (h *ServerHandle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store, runs migrations, starts the protocol
// listener and (optionally) the monitoring listener, and serves in the
// background. Use Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir()
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = intrnl.DefaultMaxFileSize
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	server := intrnl.NewServer(store, cfg.UploadDir, cfg.MaxFileSize)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:     listener.Addr().String(),
		listener: listener,
		store:    store,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if cfg.AdminAddr != "" {
		adminListener, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			cancel()
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("admin listen: %w", err)
		}
		handle.adminAddr = adminListener.Addr().String()
		handle.admin = &http.Server{Handler: server.AdminMux()}
		go func() {
			if err := handle.admin.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("admin server error: %v", err)
			}
		}()
	}

	go handle.serve(serveCtx, server)

	return handle, nil
}

func (h *ServerHandle) serve(ctx context.Context, server *intrnl.Server) {
	defer close(h.done)
	err := server.Serve(ctx, h.listener)
	if h.admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if shutdownErr := h.admin.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("admin shutdown error: %v", shutdownErr)
		}
		cancel()
	}
	if closeErr := h.store.Close(); closeErr != nil {
		log.Printf("store close error: %v", closeErr)
	}
	h.err = err
}
