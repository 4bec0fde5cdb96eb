// Copyright 2025 Mech Services, Inc.
package backend

import "github.com/redis/go-redis/v9"

// reserveScript atomically pops the best waiting job and parks it in the
// active zset under a visibility deadline. A paused queue reserves nothing.
// The job hash status is updated by the caller; the zsets are authoritative.
// KEYS: paused, waiting, active
// ARGV: deadlineMs
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return false
end
local popped = redis.call('ZPOPMIN', KEYS[2])
if #popped == 0 then
  return false
end
local id = popped[1]
redis.call('ZADD', KEYS[3], ARGV[1], id)
return id
`)

// promoteScript moves due delayed jobs into waiting with a fresh arrival
// sequence, preserving each job's stored priority.
// KEYS: delayed, waiting, seq
// ARGV: nowMs, limit, band, maxPriority, jobKeyPrefix
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  local prio = tonumber(redis.call('HGET', ARGV[5] .. id, 'priority')) or 0
  local seq = redis.call('INCR', KEYS[3])
  local score = (tonumber(ARGV[4]) - prio) * tonumber(ARGV[3]) + seq
  redis.call('ZADD', KEYS[2], score, id)
  redis.call('HSET', ARGV[5] .. id, 'status', 'waiting')
end
return #due
`)

// reclaimScript requeues active jobs whose visibility deadline has passed.
// KEYS: active, waiting, seq
// ARGV: nowMs, limit, band, maxPriority, jobKeyPrefix
var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[1], id)
  local prio = tonumber(redis.call('HGET', ARGV[5] .. id, 'priority')) or 0
  local seq = redis.call('INCR', KEYS[3])
  local score = (tonumber(ARGV[4]) - prio) * tonumber(ARGV[3]) + seq
  redis.call('ZADD', KEYS[2], score, id)
  redis.call('HSET', ARGV[5] .. id, 'status', 'waiting')
end
return #expired
`)

// cleanScript trims a terminal bucket by age then by count, deleting the
// job hashes of everything it removes.
// KEYS: bucket
// ARGV: maxScoreMs (age cutoff), keepCount, jobKeyPrefix
var cleanScript = redis.NewScript(`
local removed = 0
local aged = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(aged) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('DEL', ARGV[3] .. id)
  removed = removed + 1
end
local keep = tonumber(ARGV[2])
if keep >= 0 then
  local size = redis.call('ZCARD', KEYS[1])
  if size > keep then
    local excess = redis.call('ZRANGE', KEYS[1], 0, size - keep - 1)
    for _, id in ipairs(excess) do
      redis.call('ZREM', KEYS[1], id)
      redis.call('DEL', ARGV[3] .. id)
      removed = removed + 1
    end
  end
end
return removed
`)
