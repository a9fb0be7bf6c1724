package iface

//ITimer 可取消的延迟调用
type ITimer interface {
	Start()
	Cancel()
	SetCancelCallback(cb func())
}
