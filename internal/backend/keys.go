// Copyright 2025 Mech Services, Inc.
package backend

import "fmt"

// Key layout. Every queue owns a waiting zset (score encodes priority then
// arrival order), a delayed zset (score = due time ms), an active zset
// (score = visibility deadline ms) and two terminal zsets (score = finish
// time ms). Job documents live in one hash per job id.
const (
	queuesKey = "mq:queues"
)

func waitingKey(q string) string  { return fmt.Sprintf("mq:q:%s:waiting", q) }
func delayedKey(q string) string  { return fmt.Sprintf("mq:q:%s:delayed", q) }
func activeKey(q string) string   { return fmt.Sprintf("mq:q:%s:active", q) }
func completedKey(q string) string { return fmt.Sprintf("mq:q:%s:completed", q) }
func failedKey(q string) string   { return fmt.Sprintf("mq:q:%s:failed", q) }
func pausedKey(q string) string   { return fmt.Sprintf("mq:q:%s:paused", q) }
func seqKey(q string) string      { return fmt.Sprintf("mq:q:%s:seq", q) }
func jobKey(id string) string     { return fmt.Sprintf("mq:job:%s", id) }

// waiting score = (maxPriority - priority) * priorityBand + seq, so ZPOPMIN
// yields the highest priority first and FIFO within a priority. seq stays
// far below the band width for any realistic queue lifetime.
const (
	maxPriority  = 1000
	priorityBand = 1e12
)
