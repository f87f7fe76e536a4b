package seckill

import "github.com/redis/rueidis"

// Admission script results.
const (
	admitReserved       = 0 // stock decremented, user recorded
	admitNoStock        = 1 // remaining stock below one
	admitDuplicateOrder = 2 // user already holds a reservation
)

// admissionScript is the single authoritative admission gate. It checks the
// remaining stock, checks whether the user already reserved, decrements the
// stock and records the user as one atomic unit, so no interleaving of two
// requests for the same user or for the last unit of stock is possible.
// Redis serializes script executions, which totally orders all concurrent
// reservation attempts for a voucher.
//
// ARGV[1] = voucher id, ARGV[2] = user id. Returns 0, 1 or 2 (see the
// constants above).
var admissionScript = rueidis.NewLuaScript(`
local voucherId = ARGV[1]
local userId = ARGV[2]
local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId

local stock = redis.call('GET', stockKey)
if stock == false or tonumber(stock) <= 0 then
    return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
    return 2
end
redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
return 0
`)
