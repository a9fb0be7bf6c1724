package iface

type IHooks interface {
	OnOpen(connect IConnect)
	OnMessage(connect IConnect, data []byte)
	OnClose(connect IConnect)
	OnConnectFailed(remoteAddr string)
}
