package common

//ConnStatus 连接的状态
type ConnStatus int32

const (
	ConnDisconnected ConnStatus = iota
	ConnConnecting
	ConnConnected
	ConnDisconnecting
)

func (s ConnStatus) String() string {
	switch s {
	case ConnDisconnected:
		return "Disconnected"
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	case ConnDisconnecting:
		return "Disconnecting"
	}
	return "Unknown"
}

//ConnType 连接的方向，主动发起的为Outgoing，对端发起的为Incoming
type ConnType int32

const (
	Incoming ConnType = iota
	Outgoing
)

func (t ConnType) String() string {
	if t == Incoming {
		return "Incoming"
	}
	return "Outgoing"
}

//ConnectorStatus 连接器状态
type ConnectorStatus int32

const (
	ConnectorDisconnected ConnectorStatus = iota
	ConnectorResolving
	ConnectorResolved
	ConnectorConnecting
	ConnectorConnected
)

func (s ConnectorStatus) String() string {
	switch s {
	case ConnectorDisconnected:
		return "Disconnected"
	case ConnectorResolving:
		return "Resolving"
	case ConnectorResolved:
		return "Resolved"
	case ConnectorConnecting:
		return "Connecting"
	case ConnectorConnected:
		return "Connected"
	}
	return "Unknown"
}
