package database

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"fairytale-server/shared/interfaces"
	"fairytale-server/shared/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var _ interfaces.ReviewTokenRepository = (*redisReviewTokenRepository)(nil)

// redeemScript гасит токен только если он существует, не использован, не просрочен
// и выдан на то же действие. Иначе ничего не меняет и возвращает nil.
var redeemScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'story_id', 'action', 'used', 'expires_at')
if not data[1] then
	return false
end
if data[2] ~= ARGV[1] or data[3] ~= '0' then
	return false
end
if tonumber(data[4]) <= tonumber(ARGV[2]) then
	return false
end
redis.call('HSET', KEYS[1], 'used', '1')
return data[1]
`)

// releaseScript снимает отметку used только с погашенного, но не отозванного токена.
var releaseScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'used', 'expires_at')
if data[1] ~= '1' then
	return 0
end
if tonumber(data[2]) <= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '0')
return 1
`)

// revokeScript помечает отозванными все еще живые токены истории.
// Отозванный токен нельзя ни погасить, ни вернуть через Release.
var revokeScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local revoked = 0
for _, key in ipairs(members) do
	if redis.call('EXISTS', key) == 1 then
		redis.call('HSET', key, 'used', 'revoked')
		revoked = revoked + 1
	end
end
return revoked
`)

type redisReviewTokenRepository struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisReviewTokenRepository создает хранилище одноразовых email-токенов в Redis.
func NewRedisReviewTokenRepository(client *redis.Client, logger *zap.Logger) interfaces.ReviewTokenRepository {
	return &redisReviewTokenRepository{
		client: client,
		logger: logger.Named("RedisReviewTokenRepo"),
		now:    time.Now,
	}
}

func reviewTokenKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return "review_token:" + hex.EncodeToString(sum[:])
}

func storyTokensKey(storyID uuid.UUID) string {
	return fmt.Sprintf("review_tokens:story:%s", storyID)
}

// Save кладет хэши токенов с TTL до ExpiresAt и добавляет их в индекс истории.
func (r *redisReviewTokenRepository) Save(ctx context.Context, tokens []models.ReviewToken) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tokens {
			key := reviewTokenKey(t.Token)
			setKey := storyTokensKey(t.StoryID)
			pipe.HSet(ctx, key,
				"story_id", t.StoryID.String(),
				"action", string(t.Action),
				"used", "0",
				"expires_at", t.ExpiresAt.Unix(),
			)
			pipe.ExpireAt(ctx, key, t.ExpiresAt)
			pipe.SAdd(ctx, setKey, key)
			pipe.ExpireAt(ctx, setKey, t.ExpiresAt)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save review tokens", zap.String("storyID", tokens[0].StoryID.String()), zap.Error(err))
		return fmt.Errorf("redis error saving review tokens: %w", err)
	}
	return nil
}

func (r *redisReviewTokenRepository) Redeem(ctx context.Context, token string, action models.ReviewAction) (uuid.UUID, error) {
	if token == "" || !action.Valid() {
		return uuid.Nil, models.ErrTokenInvalid
	}
	res, err := redeemScript.Run(ctx, r.client, []string{reviewTokenKey(token)}, string(action), r.now().Unix()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, models.ErrTokenInvalid
		}
		r.logger.Error("Failed to redeem review token", zap.Error(err))
		return uuid.Nil, fmt.Errorf("redis error redeeming review token: %w", err)
	}
	storyID, err := uuid.Parse(res)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupted review token record: %w", err)
	}
	return storyID, nil
}

func (r *redisReviewTokenRepository) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	released, err := releaseScript.Run(ctx, r.client, []string{reviewTokenKey(token)}, r.now().Unix()).Int()
	if err != nil {
		r.logger.Error("Failed to release review token", zap.Error(err))
		return fmt.Errorf("redis error releasing review token: %w", err)
	}
	r.logger.Debug("Review token release", zap.Bool("released", released == 1))
	return nil
}

func (r *redisReviewTokenRepository) RevokeForStory(ctx context.Context, storyID uuid.UUID) error {
	revoked, err := revokeScript.Run(ctx, r.client, []string{storyTokensKey(storyID)}).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Error("Failed to revoke review tokens", zap.String("storyID", storyID.String()), zap.Error(err))
		return fmt.Errorf("redis error revoking review tokens: %w", err)
	}
	r.logger.Debug("Review tokens revoked", zap.String("storyID", storyID.String()), zap.Int("count", revoked))
	return nil
}
