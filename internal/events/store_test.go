package events

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-analytics/internal/nodes"
	"github.com/technosupport/ts-analytics/internal/vision"
)

type capturePublisher struct {
	payloads []any
	err      error
}

func (p *capturePublisher) PublishWsEvent(_ context.Context, payload any) error {
	p.payloads = append(p.payloads, payload)
	return p.err
}

func storeFrame() *vision.Frame {
	return &vision.Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 16, 16)),
		CameraName: "cam-A",
		Timestamp:  time.Now(),
	}
}

func sampleEvent() nodes.EventRecord {
	return nodes.EventRecord{
		PipelineID: 7,
		CameraName: "cam-A",
		EventType:  "Intrusion",
		Message:    "1 objeto(s) do tipo 'Intrusion' detectados.",
		Details:    map[string]any{"detections": []map[string]any{{"class_name": "person"}}},
	}
}

func TestRecordInsertsRowSnapshotAndNotice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mediaDir := t.TempDir()
	ws := &capturePublisher{}
	store := NewStore(db, mediaDir, ws)
	store.now = func() time.Time {
		return time.Date(2026, 2, 1, 12, 30, 45, 123456000, time.UTC)
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(7, "cam-A", "Intrusion", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Record(context.Background(), storeFrame(), sampleEvent()))
	require.NoError(t, mock.ExpectationsWereMet())

	entries, err := os.ReadDir(mediaDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cam-A_20260201_123045_123456.jpg", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(mediaDir, entries[0].Name()))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	require.Len(t, ws.payloads, 1)
	notice := ws.payloads[0].(WsEvent)
	assert.Equal(t, 7, notice.PipelineID)
	assert.Equal(t, "cam-A", notice.CameraName)
	assert.Equal(t, "Intrusion", notice.EventType)
	assert.Greater(t, notice.Timestamp, 0.0)
}

func TestRecordReusesCapturedJPEG(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mediaDir := t.TempDir()
	store := NewStore(db, mediaDir, nil)

	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))

	frame := storeFrame()
	frame.JPEG = []byte{0xff, 0xd8, 0xff, 0xd9}
	require.NoError(t, store.Record(context.Background(), frame, sampleEvent()))

	entries, err := os.ReadDir(mediaDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(mediaDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, frame.JPEG, data)
}

func TestRecordInsertsEvenWhenMediaFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Unwritable media dir: the snapshot fails, the row still lands
	// with a NULL media path.
	store := NewStore(db, "/nonexistent/media", &capturePublisher{})

	mock.ExpectExec("INSERT INTO events").
		WithArgs(7, "cam-A", "Intrusion", sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Record(context.Background(), storeFrame(), sampleEvent()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReturnsInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, t.TempDir(), nil)
	mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("db down"))

	err = store.Record(context.Background(), storeFrame(), sampleEvent())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "inserting event"))
}

func TestRecordSwallowsNoticeFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ws := &capturePublisher{err: errors.New("broker down")}
	store := NewStore(db, t.TempDir(), ws)

	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, store.Record(context.Background(), storeFrame(), sampleEvent()))
}
