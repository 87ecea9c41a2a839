package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"chartfeed.com/internal/feedgateway/app"
)

func main() {
	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 App
	gwApp, err := app.New("datafeed-gateway")
	if err != nil {
		log.Fatalf("init datafeed-gateway error: %v", err)
	}
	cleanUp := gwApp.StartService(ctx)
	defer cleanUp()
	srv := gwApp.StartHttp()

	// 3. 启动 http
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("datafeed-gateway ListenAndServe error: %v", err)
		}
	}()
	log.Printf("datafeed-gateway listening on %s", srv.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gwApp.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("datafeed-gateway shutdown error: %v", err)
	}
	log.Println("datafeed-gateway exit")
}
