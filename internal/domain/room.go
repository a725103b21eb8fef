package domain

import (
	"sort"
	"time"
)

// PresenceEntry is one item of a user's presence row as stored in the shared
// table: {sessionId, whiteboardId, expiresTs}.
type PresenceEntry struct {
	SessionID    SessionID    `json:"sessionId"`
	WhiteboardID WhiteboardID `json:"whiteboardId"`
	ExpiresTs    int64        `json:"expiresTs"`
}

// Expired reports whether the entry must be treated as absent at now.
func (e PresenceEntry) Expired(now time.Time) bool {
	return e.ExpiresTs <= now.UnixMilli()
}

// PresenceRows is the whole presence table of a room, one row per user.
type PresenceRows map[UserID][]PresenceEntry

// Clone deep-copies the rows.
func (r PresenceRows) Clone() PresenceRows {
	out := make(PresenceRows, len(r))
	for u, entries := range r {
		out[u] = append([]PresenceEntry(nil), entries...)
	}
	return out
}

// SessionRecord is a Session plus where and until when it is present.
type SessionRecord struct {
	Session
	WhiteboardID WhiteboardID `json:"whiteboardId"`
	ExpiresTs    int64        `json:"expiresTs"`
}

func (r SessionRecord) Expired(now time.Time) bool {
	return r.ExpiresTs <= now.UnixMilli()
}

func (r SessionRecord) Entry() PresenceEntry {
	return PresenceEntry{SessionID: r.SessionID, WhiteboardID: r.WhiteboardID, ExpiresTs: r.ExpiresTs}
}

// RecordFromEntry attaches the owning user to a row entry.
func RecordFromEntry(user UserID, e PresenceEntry) SessionRecord {
	return SessionRecord{
		Session:      Session{UserID: user, SessionID: e.SessionID},
		WhiteboardID: e.WhiteboardID,
		ExpiresTs:    e.ExpiresTs,
	}
}

// SortRecords orders records by user then session for stable output.
func SortRecords(records []SessionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].UserID != records[j].UserID {
			return records[i].UserID < records[j].UserID
		}
		return records[i].SessionID < records[j].SessionID
	})
}
