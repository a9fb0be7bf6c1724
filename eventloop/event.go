package eventloop

//IOEvent 关注/就绪的事件集合
type IOEvent uint32

const (
	EventNone  IOEvent = 0
	EventRead  IOEvent = 1 << 0
	EventWrite IOEvent = 1 << 1
	EventError IOEvent = 1 << 2 // 只会出现在就绪事件中，ERR/HUP
)

func (e IOEvent) String() string {
	switch e & (EventRead | EventWrite) {
	case EventRead:
		return "R"
	case EventWrite:
		return "W"
	case EventRead | EventWrite:
		return "RW"
	}
	return "None"
}

//registration 一个fd在poller中的注册信息
type registration struct {
	fd     int
	events IOEvent
	round  uint64 // 注册时所在的轮次，同一轮返回的旧事件不派发给它
	handle func(ev IOEvent)
}
