package sequence

import (
	"context"
	"errors"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("sequence",
	fx.Provide(NewGenerator),
)

// ErrContention is returned when a counter row could be neither incremented
// nor created after repeated attempts.
var ErrContention = errors.New("sequence counter contention")

// Generator hands out gap-free sequence numbers per (scope, period),
// starting at 1. Concurrent callers of one key never receive the same
// number.
type Generator interface {
	Next(ctx context.Context, scope, period string) (int64, error)
	// Current is the last number handed out for the key, 0 before the first.
	Current(ctx context.Context, scope, period string) (int64, error)
}

type Params struct {
	fx.In

	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client `optional:"true"`
}

// NewGenerator selects the backend named by CERTIFICATE.SEQUENCE_BACKEND.
func NewGenerator(p Params) Generator {
	if strings.EqualFold(p.Config.Certificate.SequenceBackend, "redis") {
		if p.Redis != nil {
			return NewRedisGenerator(p.Redis)
		}
		zap.L().Warn("redis sequence backend requested without a redis client, using database")
	}
	return NewDBGenerator(p.DB)
}

// counterTTL keeps a monthly redis counter well past the month it numbers.
const counterTTL = 400 * 24 * time.Hour

type RedisGenerator struct {
	rdb *redis.Client
}

func NewRedisGenerator(rdb *redis.Client) *RedisGenerator {
	return &RedisGenerator{rdb: rdb}
}

func (g *RedisGenerator) Next(ctx context.Context, scope, period string) (int64, error) {
	key := rediskey.BuildCertificateSequenceKey(scope, period)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	if seq == 1 {
		_ = g.rdb.Expire(ctx, key, counterTTL).Err()
	}
	return seq, nil
}

func (g *RedisGenerator) Current(ctx context.Context, scope, period string) (int64, error) {
	seq, err := g.rdb.Get(ctx, rediskey.BuildCertificateSequenceKey(scope, period)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return seq, err
}

// Counter is the durable state of one sequence key.
type Counter struct {
	Scope        string `gorm:"column:scope;primaryKey;size:16"`
	Period       string `gorm:"column:period;primaryKey;size:16"`
	LastSequence int64  `gorm:"column:last_sequence;not null"`
}

func (Counter) TableName() string {
	return "sequence_counters"
}

// DBGenerator increments a counter row inside a transaction. The UPDATE
// holds the row lock until commit, which serializes callers of one key
// without touching any other key.
type DBGenerator struct {
	db *gorm.DB
}

func NewDBGenerator(db *gorm.DB) *DBGenerator {
	return &DBGenerator{db: db}
}

const maxCounterAttempts = 3

func (g *DBGenerator) Next(ctx context.Context, scope, period string) (int64, error) {
	var next int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < maxCounterAttempts; attempt++ {
			res := tx.Model(&Counter{}).
				Where("scope = ? AND period = ?", scope, period).
				UpdateColumn("last_sequence", gorm.Expr("last_sequence + ?", 1))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				return tx.Model(&Counter{}).
					Where("scope = ? AND period = ?", scope, period).
					Select("last_sequence").
					Scan(&next).Error
			}

			// first number of the period; a concurrent creator wins the
			// insert and we go back to incrementing
			ins := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&Counter{Scope: scope, Period: period, LastSequence: 1})
			if ins.Error != nil {
				return ins.Error
			}
			if ins.RowsAffected > 0 {
				next = 1
				return nil
			}
		}
		return ErrContention
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (g *DBGenerator) Current(ctx context.Context, scope, period string) (int64, error) {
	var last []int64
	err := g.db.WithContext(ctx).Model(&Counter{}).
		Where("scope = ? AND period = ?", scope, period).
		Limit(1).
		Pluck("last_sequence", &last).Error
	if err != nil || len(last) == 0 {
		return 0, err
	}
	return last[0], nil
}
