// Package idgen Snowflake 风格的 64 位 ID 生成器。
//
// 位布局 (int64, 最高位恒为 0):
//
//	44 bit 毫秒时间戳 | 17 bit 序列号 | 2 bit 服务号
//
// 服务号放在最低位, ID 大致按创建时间有序。每个服务每毫秒最多 131071 个 ID。
package idgen

import (
	"sync"
	"time"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

const (
	serviceBits = 2
	seqBits     = 17
	maxSeq      = 1<<seqBits - 1 // 131071
	// MaxServiceID 服务号上限 (含)。
	MaxServiceID = 1<<serviceBits - 1
)

// Snowflake 并发安全的 ID 生成器, 多个 goroutine 可共享同一实例。
type Snowflake struct {
	mu         sync.Mutex
	epoch      time.Time
	serviceID  int64
	lastMillis int64
	seq        int64
	now        func() time.Time
}

// New 以 Unix 纪元为起点创建生成器。
func New(serviceID int) (*Snowflake, error) {
	return NewWithEpoch(serviceID, time.Unix(0, 0))
}

// NewWithEpoch 指定纪元创建生成器; serviceID 必须在 0..3。
func NewWithEpoch(serviceID int, epoch time.Time) (*Snowflake, error) {
	if serviceID < 0 || serviceID > MaxServiceID {
		return nil, pkgerr.Newf("IDGen.New", "service id must fit in %d bits, got %d", serviceBits, serviceID)
	}
	return &Snowflake{epoch: epoch, serviceID: int64(serviceID), now: time.Now}, nil
}

// Next 生成下一个 ID。序列号在同一毫秒内耗尽时等待下一毫秒。
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	millis := s.millis()
	if millis < s.lastMillis {
		// 时钟回拨: 沿用上一毫秒, 靠序列号保证唯一
		millis = s.lastMillis
	}
	if millis != s.lastMillis {
		s.seq = 0
	}
	s.seq++
	if s.seq > maxSeq {
		for millis <= s.lastMillis {
			time.Sleep(100 * time.Microsecond)
			millis = s.millis()
		}
		s.seq = 1
	}
	s.lastMillis = millis
	return millis<<(seqBits+serviceBits) | s.seq<<serviceBits | s.serviceID
}

func (s *Snowflake) millis() int64 {
	return s.now().Sub(s.epoch).Milliseconds()
}

// ServiceID 从 ID 中取出服务号。
func ServiceID(id int64) int { return int(id & MaxServiceID) }

// Time 从 ID 中还原生成时间 (Unix 纪元)。
func Time(id int64) time.Time {
	return time.UnixMilli(id >> (seqBits + serviceBits))
}
