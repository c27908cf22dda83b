package autosave

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/TheRealM4rtin/Clippia-sub000/internal/clock"
	"github.com/TheRealM4rtin/Clippia-sub000/internal/localkv"
)

const (
	BackupPrefix        = "backup_"
	DefaultBackupMaxAge = 24 * time.Hour
)

type Logger interface {
	Printf(format string, args ...any)
}

type backupEntry struct {
	Content string `json:"content"`
	SavedAt int64  `json:"savedAt"`
}

// Backup mirrors accepted window content to the local KV. Every failure is
// logged and swallowed. Entries older than maxAge are evicted when read.
type Backup struct {
	kv     localkv.KV
	clock  clock.Clock
	maxAge time.Duration
	logger Logger
}

func NewBackup(kv localkv.KV, clk clock.Clock, maxAge time.Duration, logger Logger) *Backup {
	if clk == nil {
		clk = clock.Real()
	}
	if maxAge <= 0 {
		maxAge = DefaultBackupMaxAge
	}
	return &Backup{kv: kv, clock: clk, maxAge: maxAge, logger: logger}
}

func backupKey(id string) string {
	return BackupPrefix + id
}

func (b *Backup) Save(id, content string) {
	if b == nil || b.kv == nil || strings.TrimSpace(id) == "" {
		return
	}
	payload, err := json.Marshal(backupEntry{Content: content, SavedAt: b.clock.Now().UnixMilli()})
	if err != nil {
		b.logf("encode backup for %s: %v", id, err)
		return
	}
	if err := b.kv.Set(backupKey(id), payload); err != nil {
		b.logf("write backup for %s: %v", id, err)
	}
}

// Load returns the backed-up content for id if it is younger than maxAge.
// Expired or unreadable entries are deleted.
func (b *Backup) Load(id string) (string, time.Time, bool) {
	if b == nil || b.kv == nil {
		return "", time.Time{}, false
	}
	raw, ok, err := b.kv.Get(backupKey(id))
	if err != nil {
		b.logf("read backup for %s: %v", id, err)
		return "", time.Time{}, false
	}
	if !ok {
		return "", time.Time{}, false
	}
	var entry backupEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		b.logf("discard unreadable backup for %s: %v", id, err)
		b.Delete(id)
		return "", time.Time{}, false
	}
	savedAt := time.UnixMilli(entry.SavedAt)
	if b.clock.Now().Sub(savedAt) > b.maxAge {
		b.Delete(id)
		return "", time.Time{}, false
	}
	return entry.Content, savedAt, true
}

func (b *Backup) Delete(id string) {
	if b == nil || b.kv == nil {
		return
	}
	if err := b.kv.Delete(backupKey(id)); err != nil {
		b.logf("delete backup for %s: %v", id, err)
	}
}

// IDs lists the window ids that currently have a backup entry, expired or not.
func (b *Backup) IDs() []string {
	if b == nil || b.kv == nil {
		return nil
	}
	keys, err := b.kv.Keys(BackupPrefix)
	if err != nil {
		b.logf("list backups: %v", err)
		return nil
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, BackupPrefix))
	}
	return ids
}

func (b *Backup) logf(format string, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Printf(format, args...)
}
