package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===== 配置 =====
type OnlineConfig struct {
	KeyPrefix string        // key 前缀，如 prelay:online
	NodeID    string        // 本节点 ID（写入 owner 值，参与存活键命名）
	TTL       time.Duration // 节点存活键 TTL，心跳每 TTL/3 续期
}

// ===== Lua 脚本 =====
//
// users hash: field=userId, value="<node>|<handleId>"
// node key:   <prefix>:node:<node>，存在即节点存活
//
// 读路径会顺带清理存活键已过期节点的条目。

// 公共片段：owner 是否存活；顺带缓存节点存活结果
const luaAlive = `
local prefix = ARGV[1]
local alive = {}
local function nodeOf(v)
  local sep = string.find(v, '|', 1, true)
  if not sep then return nil, nil end
  return string.sub(v, 1, sep - 1), string.sub(v, sep + 1)
end
local function isAlive(node)
  if node == nil then return false end
  if alive[node] == nil then
    alive[node] = redis.call('EXISTS', prefix .. ':node:' .. node) == 1
  end
  return alive[node]
end
local function roster(users)
  local flat = redis.call('HGETALL', users)
  local out = {}
  for i = 1, #flat, 2 do
    local node = nodeOf(flat[i + 1])
    if isAlive(node) then
      table.insert(out, flat[i])
    else
      redis.call('HDEL', users, flat[i])
    end
  end
  return out
end
`

// KEYS[1]=users KEYS[2]=本节点存活键
// ARGV[1]=prefix ARGV[2]=userId ARGV[3]=owner value ARGV[4]=ttlSec
// 返回：{之前存活的 handleId 或 "", roster}
const luaClaim = luaAlive + `
local prev = redis.call('HGET', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], '1', 'EX', ARGV[4])
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
local prevHandle = ''
if prev then
  local node, handle = nodeOf(prev)
  if handle ~= nil and isAlive(node) then prevHandle = handle end
end
return {prevHandle, roster(KEYS[1])}
`

// KEYS[1]=users
// ARGV[1]=prefix ARGV[2]=userId ARGV[3]=owner value
// 返回：{1=删除 0=已被他人接管, roster}
const luaRelease = luaAlive + `
local removed = 0
if redis.call('HGET', KEYS[1], ARGV[2]) == ARGV[3] then
  redis.call('HDEL', KEYS[1], ARGV[2])
  removed = 1
end
return {removed, roster(KEYS[1])}
`

// KEYS[1]=users ARGV[1]=prefix ARGV[2]=userId
// 返回：存活 owner 的 handleId，否则 ""
const luaOwner = luaAlive + `
local v = redis.call('HGET', KEYS[1], ARGV[2])
if not v then return '' end
local node, handle = nodeOf(v)
if handle == nil or not isAlive(node) then
  redis.call('HDEL', KEYS[1], ARGV[2])
  return ''
end
return handle
`

// KEYS[1]=users ARGV[1]=prefix
const luaRoster = luaAlive + `
return roster(KEYS[1])
`

// KEYS[1]=users ARGV[1]=node
// 删除本节点的全部条目（启动/退出时调用），返回删除数量
const luaPurgeNode = `
local flat = redis.call('HGETALL', KEYS[1])
local n = 0
local p = ARGV[1] .. '|'
for i = 1, #flat, 2 do
  if string.sub(flat[i + 1], 1, #p) == p then
    redis.call('HDEL', KEYS[1], flat[i])
    n = n + 1
  end
end
return n
`

// OnlineStore 集群在线表：userId -> 所在节点的连接 handle
type OnlineStore struct {
	conf OnlineConfig
	rdb  redis.UniversalClient
	log  *zap.Logger

	luaClaim   *redis.Script
	luaRelease *redis.Script
	luaOwner   *redis.Script
	luaRoster  *redis.Script
	luaPurge   *redis.Script
}

func NewOnlineStore(rdb redis.UniversalClient, conf OnlineConfig, log *zap.Logger) *OnlineStore {
	safe.MustNotNil(rdb, "redis client")
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = "prelay:online"
	}
	if conf.TTL <= 0 {
		conf.TTL = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OnlineStore{
		conf:       conf,
		rdb:        rdb,
		log:        log.Named("online"),
		luaClaim:   redis.NewScript(luaClaim),
		luaRelease: redis.NewScript(luaRelease),
		luaOwner:   redis.NewScript(luaOwner),
		luaRoster:  redis.NewScript(luaRoster),
		luaPurge:   redis.NewScript(luaPurgeNode),
	}
}

// ===== Key 构造 =====

func (m *OnlineStore) usersKey() string { return m.conf.KeyPrefix + ":users" }

func (m *OnlineStore) nodeKey() string {
	return fmt.Sprintf("%s:node:%s", m.conf.KeyPrefix, m.conf.NodeID)
}

func (m *OnlineStore) ownerValue(handleID string) string { return m.conf.NodeID + "|" + handleID }

func (m *OnlineStore) ttlSec() int64 {
	sec := int64(m.conf.TTL / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// ===== API =====

func (m *OnlineStore) Claim(ctx context.Context, userID, handleID string) (string, []string, error) {
	res, err := m.luaClaim.Run(ctx, m.rdb,
		[]string{m.usersKey(), m.nodeKey()},
		m.conf.KeyPrefix, userID, m.ownerValue(handleID), m.ttlSec(),
	).Slice()
	if err != nil {
		return "", nil, errs.WrapMsg(err, "online claim", "user", userID)
	}
	prev, _ := res[0].(string)
	return prev, toRoster(res[1]), nil
}

func (m *OnlineStore) Release(ctx context.Context, userID, handleID string) (bool, []string, error) {
	res, err := m.luaRelease.Run(ctx, m.rdb,
		[]string{m.usersKey()},
		m.conf.KeyPrefix, userID, m.ownerValue(handleID),
	).Slice()
	if err != nil {
		return false, nil, errs.WrapMsg(err, "online release", "user", userID)
	}
	removed, _ := res[0].(int64)
	return removed == 1, toRoster(res[1]), nil
}

func (m *OnlineStore) Owner(ctx context.Context, userID string) (string, bool, error) {
	handle, err := m.luaOwner.Run(ctx, m.rdb, []string{m.usersKey()}, m.conf.KeyPrefix, userID).Text()
	if err != nil {
		return "", false, errs.WrapMsg(err, "online owner", "user", userID)
	}
	return handle, handle != "", nil
}

func (m *OnlineStore) Roster(ctx context.Context) ([]string, error) {
	res, err := m.luaRoster.Run(ctx, m.rdb, []string{m.usersKey()}, m.conf.KeyPrefix).Slice()
	if err != nil {
		return nil, errs.WrapMsg(err, "online roster")
	}
	return toRoster(res), nil
}

// Heartbeat 续期本节点存活键
func (m *OnlineStore) Heartbeat(ctx context.Context) error {
	return m.rdb.Set(ctx, m.nodeKey(), "1", m.conf.TTL).Err()
}

// Purge 删除本节点留下的全部条目，用于启动前清理上次崩溃的残留以及正常退出
func (m *OnlineStore) Purge(ctx context.Context) (int64, error) {
	n, err := m.luaPurge.Run(ctx, m.rdb, []string{m.usersKey()}, m.conf.NodeID).Int64()
	if err != nil {
		return 0, errs.WrapMsg(err, "online purge", "node", m.conf.NodeID)
	}
	if err := m.rdb.Del(ctx, m.nodeKey()).Err(); err != nil {
		return n, errs.WrapMsg(err, "online purge node key", "node", m.conf.NodeID)
	}
	return n, nil
}

// Run 心跳循环，直到 ctx 结束
func (m *OnlineStore) Run(ctx context.Context) {
	if err := m.Heartbeat(ctx); err != nil {
		m.log.Warn("heartbeat failed", zap.Error(err))
	}
	ticker := time.NewTicker(m.conf.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Heartbeat(ctx); err != nil {
				m.log.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func toRoster(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
