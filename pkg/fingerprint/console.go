package fingerprint

import (
	"log/slog"

	"fpagent/internal/logger"
)

// MakeConsoleDebugger：把调试事件写入日志
// 约束：l 为空时使用进程默认日志器；prefix 作为 prefix 属性输出。
func MakeConsoleDebugger(prefix string, l *slog.Logger) DebugOutput {
	return func(event DebugEvent) error {
		lg := l
		if lg == nil {
			lg = logger.L()
		}
		lg.Debug("fp_debug", "prefix", prefix, "e", event.E, "name", EventName(event.E))
		return nil
	}
}
