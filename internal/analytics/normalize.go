// Package analytics holds the pure computations of the flush pipeline:
// payload normalization, per-visitor stay durations, session
// reconstruction and daily aggregation. Nothing here touches Redis or
// Postgres.
package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pageflux/internal/db"
)

// QueuedEvent is the wire shape of one queued visit payload. The
// timestamp is duck-typed: the site sends epoch milliseconds, older
// clients send RFC3339 strings.
type QueuedEvent struct {
	Path       string `json:"path"`
	Timestamp  any    `json:"timestamp"`
	VisitorID  string `json:"visitorId"`
	IPAddress  string `json:"ipAddress"`
	UserAgent  string `json:"userAgent"`
	Referrer   string `json:"referrer"`
	Country    string `json:"country"`
	Region     string `json:"region"`
	City       string `json:"city"`
	Device     string `json:"device"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	ScreenSize string `json:"screenSize"`
	Language   string `json:"language"`
	Timezone   string `json:"timezone"`
}

var (
	errMissingPath      = errors.New("missing path")
	errMissingVisitorID = errors.New("missing visitorId")
	errMissingIP        = errors.New("missing ipAddress")
)

// Normalize validates one raw queue payload into a PageView. It fails
// closed: any payload that cannot be decoded, is missing a required
// field, or has an unparsable timestamp is rejected with a reason. The
// caller counts rejections and moves on — a malformed payload never
// becomes valid on retry.
//
// seq is the payload's position in the drained batch, kept for stable
// ordering of equal timestamps.
func Normalize(raw []byte, seq int) (*db.PageView, error) {
	var ev QueuedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if ev.Path == "" {
		return nil, errMissingPath
	}
	if ev.VisitorID == "" {
		return nil, errMissingVisitorID
	}
	if ev.IPAddress == "" {
		return nil, errMissingIP
	}
	ts, err := parseTimestamp(ev.Timestamp)
	if err != nil {
		return nil, err
	}

	return &db.PageView{
		VisitorID:  ev.VisitorID,
		CreatedAt:  ts,
		Path:       ev.Path,
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
		Referrer:   ev.Referrer,
		Country:    ev.Country,
		Region:     ev.Region,
		City:       ev.City,
		Device:     ev.Device,
		Browser:    ev.Browser,
		OS:         ev.OS,
		ScreenSize: ev.ScreenSize,
		Language:   ev.Language,
		VisitorTZ:  ev.Timezone,
		Duration:   0,
		QueueSeq:   seq,
	}, nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		// Epoch milliseconds. Safe in a float64 until the year 287396.
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", t, err)
		}
		return ts.UTC(), nil
	case nil:
		return time.Time{}, errors.New("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("timestamp has unsupported type %T", v)
	}
}
