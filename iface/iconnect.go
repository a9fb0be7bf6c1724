package iface

type IConnect interface {
	Name() string
	ID() uint64
	Send(data []byte) bool
	Close()
	RTT() int64
	LocalAddr() string
	RemoteAddr() string
	IsConnected() bool
}
