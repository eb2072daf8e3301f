package redisstore

import "github.com/redis/go-redis/v9"

// Token hashes store used_at as unix milliseconds; "0" marks an unused token.

const createUserScript = `
if ARGV[1] == "1" and redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
if ARGV[2] == "1" and redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if ARGV[1] == "1" then
  redis.call("SET", KEYS[2], ARGV[3])
end
if ARGV[2] == "1" then
  redis.call("SET", KEYS[3], ARGV[3])
end
redis.call("HSET", KEYS[1], unpack(ARGV, 4))
return 1
`

const updateUserScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`

const saveTokenScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[2],
  "user_id", ARGV[3],
  "expires_at", ARGV[4],
  "created_at", ARGV[5],
  "used_at", "0")
redis.call("SADD", KEYS[2], ARGV[1])
local keep_until = tonumber(ARGV[6])
if keep_until > 0 then
  redis.call("PEXPIREAT", KEYS[1], keep_until)
end
return 1
`

const rotateTokenScript = `
local used = redis.call("HGET", KEYS[1], "used_at")
if not used or used ~= "0" then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end

redis.call("HSET", KEYS[1], "used_at", ARGV[1])
redis.call("HSET", KEYS[2],
  "id", ARGV[3],
  "user_id", ARGV[4],
  "expires_at", ARGV[5],
  "created_at", ARGV[6],
  "used_at", "0")
redis.call("SADD", KEYS[3], ARGV[2])
local keep_until = tonumber(ARGV[7])
if keep_until > 0 then
  redis.call("PEXPIREAT", KEYS[2], keep_until)
end
return 1
`

const revokeTokenScript = `
local used = redis.call("HGET", KEYS[1], "used_at")
if not used or used ~= "0" then
  return 0
end
redis.call("HSET", KEYS[1], "used_at", ARGV[1])
return 1
`

// ARGV[3] == "1" marks every active token consumed; otherwise the script only counts.
const activeTokensScript = `
local prefix = ARGV[1]
local now = tonumber(ARGV[2])
local revoke = ARGV[3] == "1"
local n = 0
for _, h in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = prefix .. h
  local fields = redis.call("HMGET", key, "used_at", "expires_at")
  if not fields[1] then
    redis.call("SREM", KEYS[1], h)
  elseif fields[1] == "0" and tonumber(fields[2]) > now then
    if revoke then
      redis.call("HSET", key, "used_at", ARGV[2])
    end
    n = n + 1
  end
end
return n
`

var (
	createUserLua   = redis.NewScript(createUserScript)
	updateUserLua   = redis.NewScript(updateUserScript)
	saveTokenLua    = redis.NewScript(saveTokenScript)
	rotateTokenLua  = redis.NewScript(rotateTokenScript)
	revokeTokenLua  = redis.NewScript(revokeTokenScript)
	activeTokensLua = redis.NewScript(activeTokensScript)
)
