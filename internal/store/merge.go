package store

import (
	"Parley/internal/model"
	"math"
	"slices"
)

// Entry 时间线上的一条记录
// Seq 为本地创建序号，远端拉取或推送进来的消息为 0
type Entry struct {
	Message *model.Message
	Seq     uint64
}

// Merge 计算可见顺序：
// 已确认消息按 (createdAt, id) 升序在前，乐观消息按本地创建顺序在后。
// 本地发出且已确认的消息，如果创建晚于某条仍在发送中的消息，
// 则继续留在尾部的创建位置，直到那条更早的发送有结果。
func Merge(entries []Entry) []*model.Message {
	minSending := uint64(math.MaxUint64)
	for _, e := range entries {
		if e.Seq > 0 && e.Message.State == model.StateSending && e.Seq < minSending {
			minSending = e.Seq
		}
	}

	head := make([]Entry, 0, len(entries))
	tail := make([]Entry, 0)
	for _, e := range entries {
		switch {
		case e.Message.Optimistic():
			tail = append(tail, e)
		case e.Seq > minSending:
			tail = append(tail, e)
		default:
			head = append(head, e)
		}
	}

	slices.SortStableFunc(head, func(a, b Entry) int {
		if a.Message.Before(b.Message) {
			return -1
		}
		if b.Message.Before(a.Message) {
			return 1
		}
		return 0
	})
	slices.SortStableFunc(tail, func(a, b Entry) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	out := make([]*model.Message, 0, len(entries))
	for _, e := range head {
		out = append(out, e.Message)
	}
	for _, e := range tail {
		out = append(out, e.Message)
	}
	return out
}
