package manager

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"
)

// RecordStore mirrors connection records outside the process so diagnostics
// survive restarts.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec ConnectionRecord) error
}

type noopRecordStore struct{}

func (noopRecordStore) SaveRecord(context.Context, ConnectionRecord) error { return nil }

// newNoopRecordStore guarantees manager always has a store to call.
func newNoopRecordStore() RecordStore {
	return noopRecordStore{}
}

func logPersistenceError(ctx context.Context, err error, rec ConnectionRecord) {
	if err == nil {
		return
	}
	logx.WithContext(ctx).Errorw("manager: persist connection record",
		logx.Field("venue", rec.Venue),
		logx.Field("credential", rec.CredentialID),
		logx.Field("state", rec.State),
		logx.Field("error", err.Error()))
}
