package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/normalize"
)

// ConversationLogger records chat events for later review.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls the NDJSON conversation log.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one line of the log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NewConversationLogger returns a logger writing one NDJSON file per
// user/session under cfg.Dir, plus an optional global file. Events are
// queued and written by a background goroutine; when the queue is full new
// events are dropped. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	global *os.File
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("[CONVLOG] queue full, dropping events", "dropped", n)
		}
	}
}

func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if l.global != nil {
		if err := l.global.Close(); err != nil {
			return fmt.Errorf("close global conversation log: %w", err)
		}
	}
	return nil
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("[CONVLOG] failed to marshal event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := l.appendSession(event, line); err != nil {
			l.logger.Warn("[CONVLOG] failed to write session log", "user_id", event.UserID, "session_id", event.SessionID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("[CONVLOG] failed to write global log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) appendSession(event ConversationLogEvent, line []byte) error {
	dir := filepath.Join(l.cfg.Dir, safePathPart(event.UserID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(dir, safePathPart(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafePathRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// safePathPart keeps ids from escaping the log directory.
func safePathPart(s string) string {
	s = unsafePathRe.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

// cleanForReadability strips terminal artifacts so log lines read as text.
func cleanForReadability(raw string) string {
	return normalize.Sanitize(raw)
}

// LogAppends returns a store hook that records every appended message.
func LogAppends(l ConversationLogger) chat.AppendHook {
	return func(key chat.Key, m domain.Message) {
		meta := map[string]any{
			"message_id": m.ID,
			"role":       string(m.Role),
		}
		if m.Agent != nil {
			meta["agent_id"] = m.Agent.ID
			meta["is_real_agent"] = m.Agent.IsReal
		}
		if m.Content.Shape != "" {
			meta["shape"] = m.Content.Shape
		}
		if m.Content.Promoted {
			meta["promoted"] = true
		}
		if m.Content.Error != "" {
			meta["error"] = m.Content.Error
		}
		for k, v := range m.Metadata {
			meta[k] = v
		}

		direction, eventType := "inbound", "chat_agent_message"
		switch m.Role {
		case domain.RoleUser:
			direction, eventType = "outbound", "chat_user_message"
		case domain.RoleSystem:
			direction, eventType = "internal", "chat_system_message"
		}

		l.Log(ConversationLogEvent{
			Timestamp:  m.Timestamp.Format(time.RFC3339Nano),
			UserID:     key.UserID,
			SessionID:  key.SessionID,
			Channel:    "chat_http",
			Direction:  direction,
			EventType:  eventType,
			ContentRaw: m.Content.RawText,
			Content:    m.Content.SanitizedText,
			Meta:       meta,
		})
	}
}
