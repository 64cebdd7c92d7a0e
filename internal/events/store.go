package events

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-analytics/internal/metrics"
	"github.com/technosupport/ts-analytics/internal/nodes"
	"github.com/technosupport/ts-analytics/internal/vision"
)

const insertEventSQL = `
	INSERT INTO events (pipeline_id, timestamp, camera_name, event_type, message, media_path, details)
	VALUES ($1, NOW(), $2, $3, $4, $5, $6)`

// WsPublisher pushes a compact event notice to the fan-out exchange.
type WsPublisher interface {
	PublishWsEvent(ctx context.Context, payload any) error
}

// WsEvent is the compact realtime notice emitted per stored event.
type WsEvent struct {
	PipelineID int     `json:"pipeline_id"`
	CameraName string  `json:"camera_name"`
	EventType  string  `json:"event_type"`
	Timestamp  float64 `json:"timestamp"`
}

// Store persists pipeline events: one row in Postgres, the frame
// snapshot on disk and a realtime notice on the bus. Snapshot and
// notice failures degrade the event but never abort the row.
type Store struct {
	db       *sql.DB
	mediaDir string
	ws       WsPublisher

	now func() time.Time
}

func NewStore(db *sql.DB, mediaDir string, ws WsPublisher) *Store {
	return &Store{db: db, mediaDir: mediaDir, ws: ws, now: time.Now}
}

// Open connects to the events database.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening events database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging events database: %w", err)
	}
	return db, nil
}

// Record implements nodes.EventRecorder.
func (s *Store) Record(ctx context.Context, frame *vision.Frame, ev nodes.EventRecord) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("encoding event details: %w", err)
	}

	var mediaPath sql.NullString
	if path, err := s.saveMedia(frame, ev.CameraName); err != nil {
		log.Printf("[ERROR] Events: could not save media for camera %q: %v", ev.CameraName, err)
	} else {
		mediaPath = sql.NullString{String: path, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, insertEventSQL,
		ev.PipelineID, ev.CameraName, ev.EventType, ev.Message, mediaPath, details); err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	metrics.EventsPersistedTotal.WithLabelValues(ev.EventType).Inc()

	if s.ws != nil {
		notice := WsEvent{
			PipelineID: ev.PipelineID,
			CameraName: ev.CameraName,
			EventType:  ev.EventType,
			Timestamp:  float64(s.now().UnixNano()) / 1e9,
		}
		if err := s.ws.PublishWsEvent(ctx, notice); err != nil {
			log.Printf("[ERROR] Events: publishing realtime notice: %v", err)
		}
	}
	return nil
}

// saveMedia writes the frame snapshot under the media dir and returns
// the path the API serves it from.
func (s *Store) saveMedia(frame *vision.Frame, cameraName string) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("no frame to save")
	}

	raw := frame.JPEG
	if len(raw) == 0 {
		if frame.Image == nil {
			return "", fmt.Errorf("frame carries no image data")
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame.Image, nil); err != nil {
			return "", fmt.Errorf("encoding snapshot: %w", err)
		}
		raw = buf.Bytes()
	}

	ts := s.now()
	filename := fmt.Sprintf("%s_%s_%06d.jpg", cameraName, ts.Format("20060102_150405"), ts.Nanosecond()/1000)
	if err := os.WriteFile(filepath.Join(s.mediaDir, filename), raw, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	return "/media/" + filename, nil
}
