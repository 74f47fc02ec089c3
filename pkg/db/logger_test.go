package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func TestZapGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Warn, false)
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), sql, nil)
	l.Trace(ctx, time.Now(), sql, logger.ErrRecordNotFound)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), sql, errors.New("database is locked"))
	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)

	entries := logs.TakeAll()
	require.Len(t, entries, 2)
	require.Equal(t, "query failed", entries[0].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "slow query", entries[1].Message)
	require.Equal(t, "SELECT 1", entries[1].ContextMap()["sql"])

	l.LogMode(logger.Silent).Trace(ctx, time.Now(), sql, errors.New("boom"))
	require.Zero(t, logs.Len())
}
