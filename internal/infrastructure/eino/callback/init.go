// Package callback 提供 Eino 全局回调：模型调用的 span 与日志
package callback

import (
	"sync"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
)

var initOnce sync.Once

// Init 注册 Eino 全局 callbacks（进程级一次）
func Init() {
	initOnce.Do(func() {
		einocallbacks.AppendGlobalHandlers(NewHandler())
	})
}

// NewHandler 构造 ChatModel 回调处理器，测试中可直接挂到 InitCallbacks
func NewHandler() einocallbacks.Handler {
	return cbtemplate.NewHandlerHelper().
		ChatModel(newChatModelCallbackHandler()).
		Handler()
}
