package util

import (
	"bytes"
	"encoding/binary"
)

const (
	FrameHeaderSize     = 4
	DefaultMinFrameSize = FrameHeaderSize + 1
	DefaultMaxFrameSize = 1500
)

//FrameKind Next取出的内容类型
type FrameKind int

const (
	FrameNone    FrameKind = iota // 数据不足一个完整的帧
	FrameMessage                  // 应用层消息
	FramePong                     // 心跳回包
)

//DataPacker 封包格式：data长度(4字节，大端)data
//长度为0的头部表示心跳包，固定16字节
type DataPacker struct {
	minFrameSize int // 帧的总长度(含头部)下限
	maxFrameSize int // 帧的总长度(含头部)上限
	buff         *bytes.Buffer
}

func NewDataPacker(minFrameSize, maxFrameSize int) *DataPacker {
	if minFrameSize <= FrameHeaderSize {
		minFrameSize = DefaultMinFrameSize
	}
	if maxFrameSize < minFrameSize {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &DataPacker{
		minFrameSize: minFrameSize,
		maxFrameSize: maxFrameSize,
		buff:         bytes.NewBuffer(nil),
	}
}

//Pack 封包
func (d *DataPacker) Pack(data []byte) ([]byte, error) {
	total := len(data) + FrameHeaderSize
	if total < d.minFrameSize {
		return nil, ErrFrameTooSmall
	}
	if total > d.maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buff := bytes.NewBuffer(make([]byte, 0, total))

	// 写入data长度
	if err := binary.Write(buff, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}

	// 写入data
	if err := binary.Write(buff, binary.BigEndian, data); err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

//Feed 追加从socket读到的数据
func (d *DataPacker) Feed(bs []byte) {
	d.buff.Write(bs)
}

//Next 取出一个完整的帧，数据不够时返回FrameNone，长度不合法时返回错误
func (d *DataPacker) Next() (FrameKind, []byte, error) {
	bs := d.buff.Bytes()
	if len(bs) < FrameHeaderSize {
		return FrameNone, nil, nil
	}

	dataLen := binary.BigEndian.Uint32(bs[:FrameHeaderSize])

	// 心跳包
	if dataLen == 0 {
		if len(bs) < PingRecordSize {
			return FrameNone, nil, nil
		}
		record := make([]byte, PingRecordSize)
		_, _ = d.buff.Read(record)
		return FramePong, record, nil
	}

	total := int64(dataLen) + FrameHeaderSize
	if total < int64(d.minFrameSize) {
		return FrameNone, nil, ErrFrameTooSmall
	}
	if total > int64(d.maxFrameSize) {
		return FrameNone, nil, ErrFrameTooLarge
	}
	if int64(len(bs)) < total {
		return FrameNone, nil, nil
	}

	d.buff.Next(FrameHeaderSize)
	data := make([]byte, dataLen)
	_, _ = d.buff.Read(data)
	return FrameMessage, data, nil
}

//Buffered 还未解析的字节数
func (d *DataPacker) Buffered() int {
	return d.buff.Len()
}

func (d *DataPacker) Reset() {
	d.buff.Reset()
}

func (d *DataPacker) MinFrameSize() int {
	return d.minFrameSize
}

func (d *DataPacker) MaxFrameSize() int {
	return d.maxFrameSize
}
