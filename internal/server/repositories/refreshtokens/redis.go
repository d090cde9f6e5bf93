package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	{prefix}:tok:{token}   hash with the token record; expires at expiry + retention
//	{prefix}:owner:{owner} set of the owner's not-yet-revoked token values
//
// Every write is a single Lua script, so each operation is atomic on the server.
// The scripts derive token and owner keys from hash fields and ARGV, so the
// store needs a single-node (or Sentinel-managed) Redis, not Redis Cluster.

const (
	statusOK       = "ok"
	statusExists   = "exists"
	statusConflict = "conflict"
)

// revokeOwnerLua is shared by the revoke-all and replace scripts. It revokes
// every token in the owner set and returns how many were still active at now.
const revokeOwnerLua = `
local function revoke_owner(owner_key, prefix, now_ms, reason, replaced_by)
  local now = tonumber(now_ms)
  local active = 0
  local members = redis.call("SMEMBERS", owner_key)
  for _, tok in ipairs(members) do
    local k = prefix .. ":tok:" .. tok
    local h = redis.call("HMGET", k, "revoked", "exp")
    if h[1] and h[1] ~= "1" then
      if tonumber(h[2]) > now then
        active = active + 1
      end
      redis.call("HSET", k, "revoked", "1", "revoked_at", now_ms, "reason", reason)
      if replaced_by ~= "" then
        redis.call("HSET", k, "replaced_by", replaced_by)
      end
    end
  end
  redis.call("DEL", owner_key)
  return active
end
`

const insertLua = `
local function insert(tok_key, owner_key, id, tok, owner, exp, created, expire_at)
  redis.call("HSET", tok_key, "id", id, "token", tok, "owner", owner, "exp", exp, "created", created, "revoked", "0")
  redis.call("PEXPIREAT", tok_key, expire_at)
  redis.call("SADD", owner_key, tok)
  redis.call("PEXPIREAT", owner_key, expire_at)
end
`

// KEYS: tok, owner. ARGV: id, token, owner, exp, created, expire_at.
var addScript = redis.NewScript(insertLua + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return "` + statusExists + `"
end
if redis.call("SCARD", KEYS[2]) > 0 then
  return "` + statusExists + `"
end
insert(KEYS[1], KEYS[2], ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
return "` + statusOK + `"
`)

// KEYS: tok. ARGV: prefix, now, reason.
var markRevokedScript = redis.NewScript(`
local h = redis.call("HMGET", KEYS[1], "revoked", "owner")
if not h[1] or h[1] == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[2], "reason", ARGV[3])
redis.call("SREM", ARGV[1] .. ":owner:" .. h[2], redis.call("HGET", KEYS[1], "token"))
return 1
`)

// KEYS: owner. ARGV: prefix, now, reason.
var markAllRevokedScript = redis.NewScript(revokeOwnerLua + `
return revoke_owner(KEYS[1], ARGV[1], ARGV[2], ARGV[3], "")
`)

// KEYS: owner, next tok. ARGV: prefix, now, reason, expected,
// id, token, owner, exp, created, expire_at.
var replaceScript = redis.NewScript(revokeOwnerLua + insertLua + `
local now = tonumber(ARGV[2])
if ARGV[4] ~= "" then
  local h = redis.call("HMGET", ARGV[1] .. ":tok:" .. ARGV[4], "owner", "revoked", "exp")
  if not h[1] or h[1] ~= ARGV[7] or h[2] == "1" or tonumber(h[3]) <= now then
    return "` + statusConflict + `"
  end
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return "` + statusExists + `"
end
revoke_owner(KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[6])
insert(KEYS[2], KEYS[1], ARGV[5], ARGV[6], ARGV[7], ARGV[8], ARGV[9], ARGV[10])
return "` + statusOK + `"
`)

// RedisRepository implements Repository on Redis.
type RedisRepository struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisRepository binds a repository to client. Token hashes are kept for
// retention past their expiry so revoked and expired rows stay inspectable.
func NewRedisRepository(client *redis.Client, prefix string, retention time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "sk"
	}
	return &RedisRepository{redis: client, prefix: prefix, retention: retention}
}

func (r *RedisRepository) tokKey(token string) string {
	return r.prefix + ":tok:" + token
}

func (r *RedisRepository) ownerKey(ownerID string) string {
	return r.prefix + ":owner:" + ownerID
}

func (r *RedisRepository) insertArgs(t *models.RefreshToken) []any {
	return []any{
		t.ID,
		t.Token,
		t.OwnerID,
		t.ExpiryAt.UnixMilli(),
		t.CreatedAt.UnixMilli(),
		t.ExpiryAt.Add(r.retention).UnixMilli(),
	}
}

func (r *RedisRepository) Add(ctx context.Context, t *models.RefreshToken) error {
	status, err := addScript.Run(ctx, r.redis, []string{r.tokKey(t.Token), r.ownerKey(t.OwnerID)}, r.insertArgs(t)...).Text()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if status == statusExists {
		return common.ErrorAlreadyExists
	}
	return nil
}

func (r *RedisRepository) FindActive(ctx context.Context, ownerID, token string, now time.Time) (*models.RefreshToken, error) {
	t, err := r.get(ctx, token)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID || !t.IsActive(now) {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (r *RedisRepository) FindActiveForOwner(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	tokens, err := r.redis.SMembers(ctx, r.ownerKey(ownerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if len(tokens) == 0 {
		return nil, common.ErrorNotFound
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.HGetAll(ctx, r.tokKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	var best *models.RefreshToken
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		t, err := decodeHash(fields)
		if err != nil || t.OwnerID != ownerID || !t.IsActive(now) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, common.ErrorNotFound
	}
	return best, nil
}

func (r *RedisRepository) MarkRevoked(ctx context.Context, token string, reason models.RevokeReason, now time.Time) (bool, error) {
	n, err := markRevokedScript.Run(ctx, r.redis, []string{r.tokKey(token)}, r.prefix, now.UnixMilli(), string(reason)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (r *RedisRepository) MarkAllRevoked(ctx context.Context, ownerID string, reason models.RevokeReason, now time.Time) (int64, error) {
	n, err := markAllRevokedScript.Run(ctx, r.redis, []string{r.ownerKey(ownerID)}, r.prefix, now.UnixMilli(), string(reason)).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (r *RedisRepository) Replace(ctx context.Context, p ReplaceParams) error {
	args := append([]any{r.prefix, p.Now.UnixMilli(), string(p.Reason), p.Expected}, r.insertArgs(p.Next)...)
	keys := []string{r.ownerKey(p.OwnerID), r.tokKey(p.Next.Token)}

	status, err := replaceScript.Run(ctx, r.redis, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	switch status {
	case statusConflict:
		return common.ErrRotationConflict
	case statusExists:
		return common.ErrorAlreadyExists
	}
	return nil
}

func (r *RedisRepository) get(ctx context.Context, token string) (*models.RefreshToken, error) {
	fields, err := r.redis.HGetAll(ctx, r.tokKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}
	return decodeHash(fields)
}

func decodeHash(f map[string]string) (*models.RefreshToken, error) {
	exp, err := strconv.ParseInt(f["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad exp field: %v", common.ErrStoreUnavailable, err)
	}
	created, err := strconv.ParseInt(f["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad created field: %v", common.ErrStoreUnavailable, err)
	}

	t := &models.RefreshToken{
		ID:        f["id"],
		Token:     f["token"],
		OwnerID:   f["owner"],
		ExpiryAt:  time.UnixMilli(exp).UTC(),
		CreatedAt: time.UnixMilli(created).UTC(),
		Revoked:   f["revoked"] == "1",
	}
	if v, ok := f["revoked_at"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			at := time.UnixMilli(ms).UTC()
			t.RevokedAt = &at
		}
	}
	if v, ok := f["reason"]; ok {
		rr := models.RevokeReason(v)
		t.RevokedReason = &rr
	}
	if v, ok := f["replaced_by"]; ok {
		t.ReplacedBy = &v
	}
	return t, nil
}
