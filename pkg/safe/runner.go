package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"chartfeed.com/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	go func() {
		defer recovered(context.Background())
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留请求链路信息。
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recovered(ctx)
		fn(ctx)
	}()
}

func recovered(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}
