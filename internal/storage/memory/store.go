package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"whisper/backend/internal/domain"
	"whisper/backend/internal/storage"
)

// Store 使用内存保存用户、验证码与消息，主要用于开发验证和单实例部署。
type Store struct {
	mu        sync.RWMutex
	users     map[string]*domain.User // email -> user
	usersByID map[string]*domain.User
	codes     map[string]*domain.OneTimeCode
	rooms     map[string]*domain.Room // name -> room
	messages  map[string]*domain.Message
	seq       int64
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:     make(map[string]*domain.User),
		usersByID: make(map[string]*domain.User),
		codes:     make(map[string]*domain.OneTimeCode),
		rooms:     make(map[string]*domain.Room),
		messages:  make(map[string]*domain.Message),
	}
}

// EnsureUser 按邮箱获取用户，不存在时创建。
func (s *Store) EnsureUser(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[email]; ok {
		clone := *user
		return &clone, nil
	}

	user := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	s.users[email] = user
	s.usersByID[user.ID] = user

	clone := *user
	return &clone, nil
}

// GetUserByEmail 根据邮箱获取用户。
func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// SaveOTP 保存验证码记录。
func (s *Store) SaveOTP(_ context.Context, code *domain.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *code
	s.codes[code.ID] = &clone
	return nil
}

// ConsumeOTP 在写锁内完成查找与标记，等价于数据库的条件更新。
func (s *Store) ConsumeOTP(_ context.Context, email, codeHash string, now time.Time) (*domain.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *domain.OneTimeCode
	for _, code := range s.codes {
		if code.Email != email || code.CodeHash != codeHash || !code.Usable(now) {
			continue
		}
		if newest == nil || code.CreatedAt.After(newest.CreatedAt) {
			newest = code
		}
	}
	if newest == nil {
		return nil, storage.ErrCodeNotFound
	}

	newest.Used = true
	clone := *newest
	return &clone, nil
}

// EnsureRoom 按名称获取房间，不存在时创建。
func (s *Store) EnsureRoom(_ context.Context, name string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[name]; ok {
		clone := *room
		return &clone, nil
	}

	room := &domain.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.rooms[name] = room

	clone := *room
	return &clone, nil
}

// SaveMessage 保存消息并分配插入序号。
func (s *Store) SaveMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[message.UserID]; !ok {
		return storage.ErrUserNotFound
	}

	s.seq++
	message.Seq = s.seq
	clone := *message
	s.messages[message.ID] = &clone
	return nil
}

// GetMessage 根据 ID 获取消息及作者邮箱。
func (s *Store) GetMessage(_ context.Context, id string) (*domain.MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	view := s.viewLocked(message)
	return &view, nil
}

// ListMessages 返回房间内的全部消息，按创建时间和插入顺序升序。
func (s *Store) ListMessages(_ context.Context, roomID string) ([]domain.MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	selected := make([]*domain.Message, 0, len(s.messages))
	for _, message := range s.messages {
		if message.RoomID == roomID {
			selected = append(selected, message)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].CreatedAt.Equal(selected[j].CreatedAt) {
			return selected[i].CreatedAt.Before(selected[j].CreatedAt)
		}
		return selected[i].Seq < selected[j].Seq
	})

	views := make([]domain.MessageView, 0, len(selected))
	for _, message := range selected {
		views = append(views, s.viewLocked(message))
	}
	return views, nil
}

// DeleteMessage 删除消息。
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return storage.ErrMessageNotFound
	}
	delete(s.messages, id)
	return nil
}

// Ping 内存存储始终可用。
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

func (s *Store) viewLocked(message *domain.Message) domain.MessageView {
	view := domain.MessageView{
		ID:        message.ID,
		Kind:      message.Kind,
		Text:      message.Text,
		ImageURL:  message.ImageURL,
		CreatedAt: message.CreatedAt,
	}
	if user, ok := s.usersByID[message.UserID]; ok {
		view.UserEmail = user.Email
	}
	return view
}
