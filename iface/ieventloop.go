package iface

//IEventLoop 事件循环抽象层，其他goroutine只能通过投递任务的方式操作事件循环
type IEventLoop interface {
	Run() error              // 阻塞运行
	Stop()                   // 停止，会先执行完已投递的任务
	RunInLoop(task func())   // 在事件循环中直接执行，否则投递
	QueueInLoop(task func()) // 投递到下一轮执行
	IsInLoopThread() bool
}
