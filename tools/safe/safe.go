package safe

import (
	"SanteProject/logger"

	"go.uber.org/zap"
)

// Go starts a new goroutine that recovers from panic, so that panics
// don't crash the entire program. 带名字，方便在日志里定位是哪条
// 后台链路炸了。
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panic recovered",
					zap.String("task", name), zap.Any("panic", r))
			}
		}()
		f()
	}()
}
