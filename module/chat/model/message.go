package model

import (
	"SanteProject/tools/ids"
)

// ===== 枚举 =====

// MessageKind 消息内容类型。
type MessageKind int32

const (
	KindText  MessageKind = 1 // 纯文本
	KindImage MessageKind = 2 // 图片
	KindFile  MessageKind = 3 // 文件
	KindVoice MessageKind = 4 // 语音
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindImage:
		return "IMAGE"
	case KindFile:
		return "FILE"
	case KindVoice:
		return "VOICE"
	}
	return "UNKNOWN"
}

// HasAttachment 非文本消息必须携带附件引用。
func (k MessageKind) HasAttachment() bool { return k != KindText }

// DeliveryState 投递状态机：PENDING → SENT（终态）；PENDING → FAILED（可恢复）。
// "已读"不是投递状态，是叠加在 ReadBy 集合上的属性。
type DeliveryState int32

const (
	DeliveryPending DeliveryState = 0 // 本地乐观写入，等待服务端确认
	DeliverySent    DeliveryState = 1 // 服务端已确认，拿到正式ID
	DeliveryFailed  DeliveryState = 2 // 发送失败，等用户手动重发或放弃
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryPending:
		return "PENDING"
	case DeliverySent:
		return "SENT"
	case DeliveryFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// AttachmentState 附件上传生命周期。
type AttachmentState int32

const (
	UploadQueued    AttachmentState = 0
	UploadUploading AttachmentState = 1
	UploadDone      AttachmentState = 2
	UploadFailed    AttachmentState = 3
)

// ===== 标识 =====

// MessageID 双ID空间：本地（乐观条目，tmp- 前缀）和服务端（确认后分配）。
// 用结构体而不是单字符串，换ID是一次类型安全的替换，不靠前缀约定。
// Server 非空即为服务端身份；Local 在确认后仅作为 client_msg_id 留底，
// 不再参与索引。
type MessageID struct {
	Local  string `json:"local_id,omitempty"`  // 客户端生成的幂等ID
	Server string `json:"server_id,omitempty"` // 服务端分配的消息ID
}

// NewLocalID 为乐观条目生成身份。
func NewLocalID() MessageID {
	return MessageID{Local: ids.NewLocalMsgID()}
}

// ServerID wraps an authoritative id assigned by the backend.
func ServerID(id string) MessageID {
	return MessageID{Server: id}
}

// IsLocal reports whether this id is still in the local (pending) space.
func (id MessageID) IsLocal() bool { return id.Server == "" }

// Key 索引键：有服务端ID用服务端ID，否则用本地ID。两个空间前缀不同，
// 永不碰撞。
func (id MessageID) Key() string {
	if id.Server != "" {
		return id.Server
	}
	return id.Local
}

// ===== 附件 =====

// Attachment 非文本消息的载体引用。LocalURI 先行渲染，上传完成后
// RemoteURI 就位，宿主消息身份不变。
type Attachment struct {
	LocalURI  string          `json:"local_uri,omitempty"`  // 设备本地路径，临时
	RemoteURI string          `json:"remote_uri,omitempty"` // 服务端持久地址，上传完成前为空
	MimeKind  string          `json:"mime_kind"`
	SizeBytes int64           `json:"size_bytes,omitempty"`
	State     AttachmentState `json:"state"`
}

// BestURI 渲染用：远端就绪优先远端，否则回落本地。
func (a *Attachment) BestURI() string {
	if a == nil {
		return ""
	}
	if a.RemoteURI != "" {
		return a.RemoteURI
	}
	return a.LocalURI
}

// ===== 消息主体 =====

// Message 会话时间线上的一条记录。会话内按 (SentAt, ID.Key) 全序，
// PENDING 换成 SENT 是原位替换，不是追加。
type Message struct {
	ID             MessageID     `json:"id"`
	ConversationID string        `json:"conversation_id"` // 不可变
	SenderRef      string        `json:"sender_ref"`      // 发送方引用，归属判断走 session.IsMine
	Kind           MessageKind   `json:"kind"`
	Body           string        `json:"body"` // 文本内容；非文本类型为占位/描述文案
	Attachment     *Attachment   `json:"attachment,omitempty"`
	SentAt         int64         `json:"sent_at"` // Unix ms；服务端时间一旦可知即覆盖
	DeliveryState  DeliveryState `json:"delivery_state"`
	ReadBy         []string      `json:"read_by,omitempty"`   // 已读参与者集合，只增不减
	FailCode       int           `json:"fail_code,omitempty"` // FAILED 时的 errs 分类码，决定能否重发
}

// Key shortcut.
func (m *Message) Key() string { return m.ID.Key() }

// IsReadBy reports whether the participant already appears in ReadBy.
func (m *Message) IsReadBy(participant string) bool {
	for _, p := range m.ReadBy {
		if p == participant {
			return true
		}
	}
	return false
}

// AddReadBy 追加已读参与者；幂等，返回是否真的新增。
func (m *Message) AddReadBy(participant string) bool {
	if participant == "" || m.IsReadBy(participant) {
		return false
	}
	m.ReadBy = append(m.ReadBy, participant)
	return true
}

// Clone 深拷贝（快照/缓存用，时间线内部对象绝不外漏）。
func (m *Message) Clone() *Message {
	cp := *m
	if m.Attachment != nil {
		att := *m.Attachment
		cp.Attachment = &att
	}
	if m.ReadBy != nil {
		cp.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return &cp
}

// Before 时间线全序：先比 SentAt，再比 ID.Key 保证稳定。
func (m *Message) Before(other *Message) bool {
	if m.SentAt != other.SentAt {
		return m.SentAt < other.SentAt
	}
	return m.Key() < other.Key()
}
