package distributor

import (
	"context"
	"fmt"

	"wisefido-notify/internal/models"
)

// Message 渠道无关的通知内容
type Message struct {
	Title    string
	Body     string
	AlertID  string
	Priority int
}

// Sender 渠道发送器（每种渠道一个实现，黑盒、尽力而为）
type Sender interface {
	// Channel 返回发送器所属渠道
	Channel() models.Channel
	// Send 向单个接收人发送通知
	Send(ctx context.Context, recipient models.ManagerContact, msg Message) error
}

// SenderRegistry 渠道注册表
// 启动时建好 渠道 → 发送器 的静态映射，避免散落的字符串分支
type SenderRegistry struct {
	senders map[models.Channel]Sender
}

// NewSenderRegistry 创建渠道注册表
func NewSenderRegistry(senders ...Sender) *SenderRegistry {
	r := &SenderRegistry{
		senders: make(map[models.Channel]Sender),
	}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

// Register 注册发送器（同渠道覆盖）
func (r *SenderRegistry) Register(s Sender) {
	r.senders[s.Channel()] = s
}

// Get 获取渠道的发送器
func (r *SenderRegistry) Get(channel models.Channel) (Sender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel: %s", channel)
	}
	return s, nil
}

// Channels 已注册的渠道列表
func (r *SenderRegistry) Channels() []models.Channel {
	channels := make([]models.Channel, 0, len(r.senders))
	for ch := range r.senders {
		channels = append(channels, ch)
	}
	return channels
}
