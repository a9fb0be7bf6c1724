package util

import (
	"sync"

	"github.com/eapache/queue"
)

//Queue 并发安全的先进先出队列
type Queue struct {
	inner  *queue.Queue
	locker sync.Mutex
}

func NewQueue() *Queue {
	return &Queue{
		inner:  queue.New(),
		locker: sync.Mutex{},
	}
}

//Push 加，返回加入后的长度
func (q *Queue) Push(item interface{}) int {
	q.locker.Lock()
	defer q.locker.Unlock()
	q.inner.Add(item)

	return q.inner.Length()
}

//Pop 弹
func (q *Queue) Pop() interface{} {
	q.locker.Lock()
	defer q.locker.Unlock()
	if q.inner.Length() <= 0 {
		return nil
	}
	return q.inner.Remove()
}

//Peek 查看队头，不弹出
func (q *Queue) Peek() interface{} {
	q.locker.Lock()
	defer q.locker.Unlock()
	if q.inner.Length() <= 0 {
		return nil
	}
	return q.inner.Peek()
}

//Len 获取长度
func (q *Queue) Len() int {
	q.locker.Lock()
	defer q.locker.Unlock()
	return q.inner.Length()
}

//Reset 清空队列，keepFront为true时保留队头元素
func (q *Queue) Reset(keepFront bool) {
	q.locker.Lock()
	defer q.locker.Unlock()

	var front interface{}
	if keepFront && q.inner.Length() > 0 {
		front = q.inner.Peek()
	}

	q.inner = queue.New()
	if front != nil {
		q.inner.Add(front)
	}
}

//PushBounded 加入前队列已满(>=max)时清空队列，只保留最早的一个，返回被丢弃的数量
func (q *Queue) PushBounded(item interface{}, max int) int {
	q.locker.Lock()
	defer q.locker.Unlock()

	dropped := 0
	if max > 0 && q.inner.Length() >= max {
		front := q.inner.Peek()
		dropped = q.inner.Length() - 1
		q.inner = queue.New()
		q.inner.Add(front)
	}
	q.inner.Add(item)
	return dropped
}
