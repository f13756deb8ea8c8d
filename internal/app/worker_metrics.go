package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scmxpert/scmxpertlite/internal/metrics"
)

// workerMetricsHandler はworkerプロセスのスクレイプ用ハンドラーを返す。
// /metricsとコンテナ監視用の/healthのみを持つ。
func workerMetricsHandler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	return r
}

// startWorkerMetricsServer はメトリクス用のHTTPサーバーをバックグラウンドで起動する。
// portが空の場合は起動せずnilを返す。待ち受けに失敗してもクリーンアップは継続する。
func startWorkerMetricsServer(port string, reg *prometheus.Registry) *http.Server {
	if port == "" {
		return nil
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           workerMetricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return server
}

func stopWorkerMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}
}
