package ws

import (
	"time"

	"pieceTableServer/backend/internal/ot/delta"
)

type ClientMessage struct {
	Type         string      `json:"type"`
	DocID        string      `json:"docId"`
	BaseRevision uint64      `json:"baseRevision"`
	ClientId     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq"`
	Ops          delta.Delta `json:"ops"`
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"`
	UserID   uint64           `json:"userId,omitempty"`
	DocID    string           `json:"docId,omitempty"`
	Revision uint64           `json:"revision,omitempty"`
	Members  []PresenceMember `json:"members,omitempty"`
	Content  string           `json:"content,omitempty"`
}

// 广播给同文档房间内其他连接的“已应用操作”事件
// 收到后在本地应用 ops，并将本地 revision 对齐到 revision
type OpBroadcastMessage struct {
	Type      string      `json:"type"` // 固定 "op_broadcast"
	DocID     string      `json:"docId"`
	Revision  uint64      `json:"revision"`
	AuthorID  uint64      `json:"authorId"`
	ClientId  string      `json:"clientId,omitempty"`
	ClientSeq uint64      `json:"clientSeq,omitempty"`
	Ops       delta.Delta `json:"ops"`
	AppliedAt time.Time   `json:"appliedAt,omitempty"`
}

type OpAppliedMessage struct {
	Type            string `json:"type"` // 固定 "op_applied"
	DocID           string `json:"docId"`
	OperationID     string `json:"operationId"`
	BaseRevision    uint64 `json:"baseRevision"`    // 客户端提交时的 base
	CurrentRevision uint64 `json:"currentRevision"` // 服务端应用后的最新版本
	ClientId        string `json:"clientId"`
	ClientSeq       uint64 `json:"clientSeq"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string      { return m.Type }
func (m OpAppliedMessage) MessageType() string   { return m.Type }
func (m OpBroadcastMessage) MessageType() string { return m.Type }
