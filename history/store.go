package history

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailmind/mailmind/types"
)

// Conversation groups messages under one session ID.
type Conversation struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex;size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one transcript entry.
type Message struct {
	ID             uint `gorm:"primaryKey"`
	ConversationID uint `gorm:"index"`
	Role           string `gorm:"size:16"`
	Content        string
	CreatedAt      time.Time
}

// Config locates the database.
type Config struct {
	// Path is the SQLite file; ":memory:" keeps the transcript in process.
	Path string `yaml:"path" json:"path"`

	// MaxMessages caps how many rows a session retains; older entries are
	// pruned on append. Zero disables pruning.
	MaxMessages int `yaml:"max_messages" json:"max_messages"`
}

// DefaultConfig returns history defaults.
func DefaultConfig() Config {
	return Config{
		Path:        "mailmind-history.db",
		MaxMessages: 200,
	}
}

// Store is the SQLite-backed transcript store.
type Store struct {
	db     *gorm.DB
	cfg    Config
	logger *zap.Logger
}

// Open opens (and migrates) the transcript database.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	return &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "history")),
	}, nil
}

// Append records one message under sessionID, creating the conversation on
// first use and pruning beyond the retention cap.
func (s *Store) Append(ctx context.Context, sessionID string, msg types.ChatMessage) error {
	if sessionID == "" {
		return fmt.Errorf("append: empty session id")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := s.conversation(tx, sessionID)
		if err != nil {
			return err
		}

		created := msg.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		row := Message{
			ConversationID: conv.ID,
			Role:           msg.Role,
			Content:        msg.Content,
			CreatedAt:      created,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append message: %w", err)
		}

		tx.Model(conv).Update("updated_at", time.Now())
		return s.prune(tx, conv.ID)
	})
}

// Recent returns up to limit messages for sessionID in chronological order.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var conv Conversation
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	var rows []Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	out := make([]types.ChatMessage, len(rows))
	for i, r := range rows {
		// Rows came back newest first; flip to chronological.
		out[len(rows)-1-i] = types.ChatMessage{
			Role:      r.Role,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Sessions lists known session IDs, most recently active first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	var convs []Conversation
	err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.SessionID
	}
	return out, nil
}

// Clear removes a session and its messages.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv Conversation
		err := tx.Where("session_id = ?", sessionID).First(&conv).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conv.ID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conv).Error
	})
}

// Ping verifies the database is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) conversation(tx *gorm.DB, sessionID string) (*Conversation, error) {
	var conv Conversation
	err := tx.Where("session_id = ?", sessionID).First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		conv = Conversation{SessionID: sessionID}
		if err := tx.Create(&conv).Error; err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return &conv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) prune(tx *gorm.DB, convID uint) error {
	if s.cfg.MaxMessages <= 0 {
		return nil
	}
	var count int64
	if err := tx.Model(&Message{}).Where("conversation_id = ?", convID).Count(&count).Error; err != nil {
		return err
	}
	excess := count - int64(s.cfg.MaxMessages)
	if excess <= 0 {
		return nil
	}
	var ids []uint
	err := tx.Model(&Message{}).
		Where("conversation_id = ?", convID).
		Order("id ASC").
		Limit(int(excess)).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return err
	}
	return tx.Delete(&Message{}, ids).Error
}
