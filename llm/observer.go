package llm

import (
	"context"

	"go.uber.org/zap"
)

// CallInfo 描述一次上游调用的脱敏上下文，供观测钩子使用。
// AuthSummary 只携带凭据形态（如 "api-key" / "bearer"），绝不携带凭据内容。
type CallInfo struct {
	RequestID   string
	Provider    string
	Capability  string // chat / chat.stream / embedding / image / transcription / assistants.*
	Model       string
	APIVersion  string
	Endpoint    string
	AuthSummary string
	Input       any
}

// CallObserver 在每次上游调用前后收到通知。实现必须是有界的、不阻塞关键路径；
// 对同一请求，PreCall 严格先于 PostCall，且二者之间不会插入其他请求的观测。
type CallObserver interface {
	PreCall(ctx context.Context, info CallInfo)
	PostCall(ctx context.Context, info CallInfo, raw any, err error)
}

// NopObserver 丢弃所有观测。
type NopObserver struct{}

func (NopObserver) PreCall(context.Context, CallInfo)              {}
func (NopObserver) PostCall(context.Context, CallInfo, any, error) {}

// ZapObserver 把观测写入结构化日志，是库的默认实现。
type ZapObserver struct {
	Logger *zap.Logger
}

func NewZapObserver(logger *zap.Logger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapObserver{Logger: logger}
}

func (o *ZapObserver) PreCall(_ context.Context, info CallInfo) {
	o.Logger.Debug("llm pre-call",
		zap.String("request_id", info.RequestID),
		zap.String("provider", info.Provider),
		zap.String("capability", info.Capability),
		zap.String("model", info.Model),
		zap.String("api_version", info.APIVersion),
		zap.String("endpoint", info.Endpoint),
		zap.String("auth", info.AuthSummary),
	)
}

func (o *ZapObserver) PostCall(_ context.Context, info CallInfo, _ any, err error) {
	if err != nil {
		o.Logger.Warn("llm post-call",
			zap.String("request_id", info.RequestID),
			zap.String("provider", info.Provider),
			zap.String("capability", info.Capability),
			zap.Error(err),
		)
		return
	}
	o.Logger.Debug("llm post-call",
		zap.String("request_id", info.RequestID),
		zap.String("provider", info.Provider),
		zap.String("capability", info.Capability),
	)
}
