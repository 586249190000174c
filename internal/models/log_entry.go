package models

import (
	"time"

	"github.com/google/uuid"
)

// LogType is the category shown in the replica's log view.
type LogType string

const (
	LogInfo LogType = "INFO"
	LogSync LogType = "SYNC"
	LogAI   LogType = "AI"
	LogWarn LogType = "WARN"
)

// LogEntry is ephemeral; it lives only in the in-memory ring.
type LogEntry struct {
	ID        string  `json:"id"`
	Type      LogType `json:"type"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

func NewLogEntry(logType LogType, message string) LogEntry {
	return LogEntry{
		ID:        uuid.NewString(),
		Type:      logType,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NetworkStats is recomputed on demand and never stored.
type NetworkStats struct {
	PeerCount         int   `json:"peerCount"`
	StorageUsageBytes int64 `json:"storageUsageBytes"`
	TotalPosts        int   `json:"totalPosts"`
	LastSync          int64 `json:"lastSync"`
}
