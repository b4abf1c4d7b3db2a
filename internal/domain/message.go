package domain

import "time"

// DefaultRoom 唯一的公共聊天室，首次使用时创建
const DefaultRoom = "General"

// MaxMessageRunes 文本消息的最大字符数
const MaxMessageRunes = 4000

// MessageKind 消息类型
type MessageKind string

const (
	MessageKindText  MessageKind = "TEXT"
	MessageKindImage MessageKind = "IMAGE"
)

// Room 聊天室
type Room struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"uniqueIndex;type:varchar(64);not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Room) TableName() string {
	return "rooms"
}

// Message 房间内的一条消息。Seq 由数据库按插入顺序分配，用于同一时刻的排序
type Message struct {
	ID        string      `gorm:"primaryKey;type:varchar(36)"`
	Seq       int64       `gorm:"->"`
	RoomID    string      `gorm:"type:varchar(36);not null;index"`
	UserID    string      `gorm:"type:varchar(36);not null;index"`
	Kind      MessageKind `gorm:"type:varchar(16);not null"`
	Text      string      `gorm:"column:body;type:text"`
	ImageURL  string      `gorm:"type:varchar(512)"`
	CreatedAt time.Time   `gorm:"not null"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// MessageView 对外发布的消息结构，附带作者邮箱
type MessageView struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	ImageURL  string      `json:"imageUrl"`
	CreatedAt time.Time   `json:"createdAt"`
	UserEmail string      `json:"userEmail"`
}
