package logger

import (
	"Parley/internal/api/config"
	"io"
	log "log/slog"
	"net"
	"os"
	"time"
)

var (
	LogWriter io.Writer = os.Stdout
	remote    net.Conn
)

// InitLogger 标准输出 JSON，配置了 logstash 时同时上报带 trace_id 的日志
func InitLogger(cfg config.LogstashConfig, level log.Level) {
	hStdout := log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: level})

	var finalHandler log.Handler = hStdout

	if cfg.Address != "" {
		conn, err := net.DialTimeout("tcp", cfg.Address, 3*time.Second)
		if err == nil {
			hRemote := log.NewJSONHandler(conn, &log.HandlerOptions{Level: level}).
				WithAttrs([]log.Attr{log.String("target_index", cfg.Index)})

			finalHandler = &TeeHandler{
				handlers: []log.Handler{hStdout, &RemoteFilterHandler{next: hRemote}},
			}
			LogWriter = io.MultiWriter(os.Stdout, conn)
			remote = conn
		} else {
			log.Warn("Failed to connect to Logstash, logging to stdout only", "err", err)
		}
	}

	log.SetDefault(log.New(&ContextHandler{finalHandler}))
}

// Close 关闭远程日志连接
func Close() {
	if remote != nil {
		_ = remote.Close()
		remote = nil
	}
}
