// Package chat 实现公共聊天室的消息读写、删除授权和事件广播。
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whisper/backend/internal/cache"
	"whisper/backend/internal/domain"
	"whisper/backend/internal/logger"
	"whisper/backend/internal/security"
	"whisper/backend/internal/storage"
	"whisper/backend/internal/storage/blob"
)

// UploadPathPrefix 图片消息 URL 前缀
const UploadPathPrefix = "/uploads/"

var (
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = fmt.Errorf("%w: message not found", domain.ErrNotFound)
	// ErrNotAuthor 只有作者可以删除消息
	ErrNotAuthor = fmt.Errorf("%w: not allowed", domain.ErrForbidden)
	// ErrNoFile 上传请求没有携带图片
	ErrNoFile = domain.ValidationError("No file")
)

// Repository 聊天服务依赖的存储能力
type Repository interface {
	EnsureUser(ctx context.Context, email string) (*domain.User, error)
	EnsureRoom(ctx context.Context, name string) (*domain.Room, error)
	SaveMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.MessageView, error)
	ListMessages(ctx context.Context, roomID string) ([]domain.MessageView, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Broadcaster 向在线连接推送消息事件
type Broadcaster interface {
	PublishMessageCreated(msg *domain.MessageView) int
	PublishMessageDeleted(id string) int
}

// SendGate 按身份限制上传频率
type SendGate interface {
	Allow(identity string) bool
}

// Recorder 消息指标
type Recorder interface {
	RecordMessageCreated(kind string)
	RecordMessageDeleted()
}

// Upload 一次图片上传
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// Options 聊天服务依赖
type Options struct {
	Repo        Repository
	Blobs       blob.Store
	Images      *security.ImageSecurity
	SendGate    SendGate
	Broadcaster Broadcaster
	Recorder    Recorder
	Logger      *zap.Logger
	// UserCacheTTL 邮箱到用户 ID 的缓存时间
	UserCacheTTL time.Duration
}

// Service 聊天服务
type Service struct {
	repo        Repository
	blobs       blob.Store
	images      *security.ImageSecurity
	sendGate    SendGate
	broadcaster Broadcaster
	recorder    Recorder
	log         *zap.Logger

	users   *cache.LocalCache[string]
	authors *keyedMutex

	roomMu sync.Mutex
	roomID string

	now func() time.Time
}

// NewService 创建聊天服务
func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ttl := opts.UserCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		repo:        opts.Repo,
		blobs:       opts.Blobs,
		images:      opts.Images,
		sendGate:    opts.SendGate,
		broadcaster: opts.Broadcaster,
		recorder:    opts.Recorder,
		log:         log.Named("chat"),
		users:       cache.NewLocalCache[string](10000, ttl),
		authors:     newKeyedMutex(),
		now:         time.Now,
	}
}

// WithClock 替换时间源，测试使用
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UserCache 暴露用户缓存，供后台清理任务使用
func (s *Service) UserCache() *cache.LocalCache[string] {
	return s.users
}

// List 返回房间内全部消息，按创建时间升序
func (s *Service) List(ctx context.Context, email string) ([]domain.MessageView, error) {
	if _, err := s.resolveUser(ctx, email); err != nil {
		return nil, err
	}
	roomID, err := s.resolveRoom(ctx)
	if err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Create 发布文本消息
func (s *Service) Create(ctx context.Context, email, text string) (*domain.MessageView, error) {
	text, err := domain.ValidateMessageText(text)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, email, func(m *domain.Message) {
		m.Kind = domain.MessageKindText
		m.Text = text
	})
}

// CreateImage 检查并保存图片，然后发布图片消息
func (s *Service) CreateImage(ctx context.Context, email string, upload *Upload) (*domain.MessageView, error) {
	if upload == nil || upload.Content == nil {
		return nil, ErrNoFile
	}
	if s.sendGate != nil && !s.sendGate.Allow(email) {
		return nil, &domain.RateLimitError{
			Reason:     "Too many uploads, slow down",
			RetryAfter: 2 * time.Second,
		}
	}

	checked, err := s.images.Check(upload.Filename, upload.Size, upload.Content)
	if err != nil {
		return nil, err
	}

	key := uuid.NewString() + "." + checked.Extension
	if err := s.blobs.Put(ctx, key, checked.Reader, checked.Size, checked.MIME); err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	view, err := s.publish(ctx, email, func(m *domain.Message) {
		m.Kind = domain.MessageKindImage
		m.ImageURL = UploadPathPrefix + key
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.log.Warn("failed to remove orphaned image", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}
	return view, nil
}

// AuthorizeDelete 判断 email 是否可以删除该消息：不存在返回 ErrMessageNotFound，不是作者返回 ErrNotAuthor
func (s *Service) AuthorizeDelete(ctx context.Context, email, id string) (*domain.MessageView, error) {
	msg, err := s.repo.GetMessage(ctx, id)
	if errors.Is(err, storage.ErrMessageNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg.UserEmail != email {
		return nil, ErrNotAuthor
	}
	return msg, nil
}

// Delete 删除自己的消息并广播删除事件
func (s *Service) Delete(ctx context.Context, email, id string) error {
	msg, err := s.AuthorizeDelete(ctx, email, id)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			s.log.Info("delete denied", logger.Email(email), zap.String("message_id", id))
		}
		return err
	}

	if err := s.repo.DeleteMessage(ctx, msg.ID); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordMessageDeleted()
	}
	delivered := s.broadcaster.PublishMessageDeleted(msg.ID)
	s.log.Info("message deleted",
		zap.String("message_id", msg.ID),
		logger.Email(email),
		zap.Int("delivered", delivered))
	return nil
}

// publish 保存消息后广播。同一作者的消息按调用顺序写入
func (s *Service) publish(ctx context.Context, email string, fill func(*domain.Message)) (*domain.MessageView, error) {
	unlock := s.authors.Lock(email)
	view, err := s.save(ctx, email, fill)
	unlock()
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.RecordMessageCreated(string(view.Kind))
	}
	delivered := s.broadcaster.PublishMessageCreated(view)
	s.log.Debug("message created",
		zap.String("message_id", view.ID),
		zap.String("kind", string(view.Kind)),
		zap.Int("delivered", delivered))
	return view, nil
}

func (s *Service) save(ctx context.Context, email string, fill func(*domain.Message)) (*domain.MessageView, error) {
	userID, err := s.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}
	roomID, err := s.resolveRoom(ctx)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	fill(msg)

	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.users.Delete(email)
		}
		return nil, fmt.Errorf("save message: %w", err)
	}

	return &domain.MessageView{
		ID:        msg.ID,
		Kind:      msg.Kind,
		Text:      msg.Text,
		ImageURL:  msg.ImageURL,
		CreatedAt: msg.CreatedAt,
		UserEmail: email,
	}, nil
}

func (s *Service) resolveUser(ctx context.Context, email string) (string, error) {
	if id, ok := s.users.Get(email); ok {
		return id, nil
	}
	user, err := s.repo.EnsureUser(ctx, email)
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	s.users.Set(email, user.ID, 0)
	return user.ID, nil
}

func (s *Service) resolveRoom(ctx context.Context) (string, error) {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	if s.roomID != "" {
		return s.roomID, nil
	}
	room, err := s.repo.EnsureRoom(ctx, domain.DefaultRoom)
	if err != nil {
		return "", fmt.Errorf("ensure room: %w", err)
	}
	s.roomID = room.ID
	return room.ID, nil
}
