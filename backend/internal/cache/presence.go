package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache tracks who has a document open. Members expire unless
// refreshed with AddMember before their ttl runs out.
type PresenceCache interface {
	AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, userID uint64) error
	AliveMembers(ctx context.Context, docID string) ([]PresenceMember, error)
}

type PresenceMember struct {
	UserID   uint64
	Username string
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, docID string, userID uint64, username string, ttl time.Duration) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(docID), userID)
	// 心跳键
	pipe.Set(ctx, memberKey(docID, userID), "1", ttl)
	pipe.HSet(ctx, namesKey(docID), userID, username)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID string, userID uint64) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(docID), userID)
	pipe.Del(ctx, memberKey(docID, userID))
	pipe.HDel(ctx, namesKey(docID), strconv.FormatUint(userID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) AliveMembers(ctx context.Context, docID string) ([]PresenceMember, error) {
	userIDs, err := p.rdb.SMembers(ctx, roomKey(docID)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	uids := make([]uint64, len(userIDs))
	existsCmds := make([]*redis.IntCmd, len(userIDs))
	pipe := p.rdb.Pipeline()
	for i, userID := range userIDs {
		uid, err := strconv.ParseUint(userID, 10, 64)
		if err != nil {
			return nil, err
		}
		uids[i] = uid
		existsCmds[i] = pipe.Exists(ctx, memberKey(docID, uid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	// 心跳键还在的就是在线成员，过期的顺手从房间移除
	var alive []uint64
	var fields []string
	var stale []any
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			alive = append(alive, uids[i])
			fields = append(fields, userIDs[i])
		} else {
			stale = append(stale, userIDs[i])
		}
	}
	if len(stale) > 0 {
		_ = p.rdb.SRem(ctx, roomKey(docID), stale...).Err()
	}
	if len(alive) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(docID), fields...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(alive))
	for i, v := range names {
		name, _ := v.(string)
		members = append(members, PresenceMember{UserID: alive[i], Username: name})
	}
	return members, nil
}
