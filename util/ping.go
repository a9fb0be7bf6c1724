package util

import "encoding/binary"

const PingRecordSize = 16

//PingRecord 心跳包：0(4字节) + id(4字节，大端) + 发送时间毫秒(8字节，大端)
type PingRecord struct {
	ID   uint32
	Time int64
}

func (p PingRecord) Marshal() []byte {
	buf := make([]byte, PingRecordSize)
	binary.BigEndian.PutUint32(buf[4:8], p.ID)
	binary.BigEndian.PutUint64(buf[8:], uint64(p.Time))
	return buf
}

//UnmarshalPing .
func UnmarshalPing(bs []byte) (PingRecord, error) {
	if len(bs) < PingRecordSize {
		return PingRecord{}, ErrShortPing
	}
	return PingRecord{
		ID:   binary.BigEndian.Uint32(bs[4:8]),
		Time: int64(binary.BigEndian.Uint64(bs[8:PingRecordSize])),
	}, nil
}
