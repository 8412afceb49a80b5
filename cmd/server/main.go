package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	intrnl "sharehub/internal"
	"sharehub/internal/app"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", getEnv("SHAREHUB_ADDR", ":5555"), "protocol listen address")
	adminAddr := flag.String("admin-addr", getEnv("SHAREHUB_ADMIN_ADDR", "127.0.0.1:8585"), "monitoring listen address (empty disables)")
	dbPath := flag.String("db", getEnv("SHAREHUB_DB_PATH", app.DefaultDBPath()), "sqlite database path")
	uploadDir := flag.String("uploads", getEnv("SHAREHUB_UPLOAD_DIR", app.DefaultUploadDir()), "upload storage directory")
	maxFileSize := flag.Int64("max-file-size", getEnvInt64("SHAREHUB_MAX_FILE_SIZE", intrnl.DefaultMaxFileSize), "upload size ceiling in bytes")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, app.ServerConfig{
		Addr:        *addr,
		AdminAddr:   *adminAddr,
		DBPath:      *dbPath,
		UploadDir:   *uploadDir,
		MaxFileSize: *maxFileSize,
	})
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	log.Printf("sharehub %s listening on %s", version, handle.Addr())
	if handle.AdminAddr() != "" {
		log.Printf("monitoring on http://%s", handle.AdminAddr())
	}

	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("server stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}
