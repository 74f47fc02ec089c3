package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"smallbiznis-licensing/services/testutil"

	"github.com/bwmarrin/snowflake"
	fbclock "github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type failingLog struct{ calls int }

func (f *failingLog) Append(context.Context, Event) error {
	f.calls++
	return errors.New("db down")
}

func TestAppendFillsIDAndTime(t *testing.T) {
	db := testutil.NewTestDB(t, &Event{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mock := fbclock.NewMock()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.Add(now.Sub(mock.Now()))

	log := NewLog(Params{DB: db, Node: node, Clock: mock})
	Emit(context.Background(), log, Event{
		Type:      SeatGranted,
		LicenseID: "lic_1",
		SeatID:    "42",
		Payload:   Payload(map[string]any{"deviceId": "dev-a"}),
	})

	var got []Event
	require.NoError(t, db.Find(&got).Error)
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].ID)
	require.Equal(t, SeatGranted, got[0].Type)
	require.True(t, now.Equal(got[0].CreatedAt.UTC()))
	require.JSONEq(t, `{"deviceId":"dev-a"}`, string(got[0].Payload))
}

func TestEmitSwallowsErrors(t *testing.T) {
	f := &failingLog{}
	require.NotPanics(t, func() {
		Emit(context.Background(), f, Event{Type: LicenseRevoked})
		Emit(context.Background(), nil, Event{Type: LicenseRevoked})
	})
	require.Equal(t, 1, f.calls)
}

func TestPayloadUnencodable(t *testing.T) {
	require.Nil(t, Payload(make(chan int)))
}
