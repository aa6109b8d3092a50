package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"pieceTableServer/backend/internal/cache"
	"pieceTableServer/backend/internal/collab"
)

const presenceTTL = 60 * time.Second

type Hub struct {
	// nil 时不记录在线状态
	presence cache.PresenceCache
	mu       sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(ctx context.Context, docID string, c *Conn) {
	h.mu.Lock()
	if h.rooms[docID] == nil {
		// 一个用户可开多个标签页，所以按连接而不是按 userID 存
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
	h.mu.Unlock()
	h.touch(ctx, docID, c)
}

// Leave 将连接从指定文档房间移除。返回后不会再有广播发往 c。
func (h *Hub) Leave(ctx context.Context, docID string, c *Conn) {
	h.mu.Lock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
	h.mu.Unlock()
	if h.presence != nil && docID != "" {
		if err := h.presence.RemoveMember(ctx, docID, c.userID); err != nil {
			log.Printf("remove member error doc=%s user=%d: %v", docID, c.userID, err)
		}
	}
}

// RoomSize reports how many connections are in docID's room.
func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

func (h *Hub) touch(ctx context.Context, docID string, c *Conn) {
	if h.presence == nil {
		return
	}
	if err := h.presence.AddMember(ctx, docID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("add member error doc=%s user=%d: %v", docID, c.userID, err)
	}
}

func (h *Hub) Members(ctx context.Context, docID string) []PresenceMember {
	if h.presence == nil {
		return nil
	}
	members, err := h.presence.AliveMembers(ctx, docID)
	if err != nil {
		log.Printf("get alive members error doc=%s: %v", docID, err)
		return nil
	}
	out := make([]PresenceMember, len(members))
	for i, m := range members {
		out[i] = PresenceMember{UserID: m.UserID, Username: m.Username}
	}
	return out
}

// BroadcastAppliedOp sends op to every connection of the room except from.
func (h *Hub) BroadcastAppliedOp(docID string, from *Conn, clientID string, clientSeq uint64, op collab.AppliedOp) {
	msg := OpBroadcastMessage{
		Type:      "op_broadcast",
		DocID:     docID,
		Revision:  op.Revision,
		AuthorID:  op.AuthorID,
		ClientId:  clientID,
		ClientSeq: clientSeq,
		Ops:       op.Ops,
		AppliedAt: op.AppliedAt,
	}
	// 持有读锁发送，保证 Leave 之后不会再写入已关闭的 send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		if c == from {
			continue
		}
		c.Enqueue(msg)
	}
}

// BroadcastSaved tells the room that docID was persisted at revision.
func (h *Hub) BroadcastSaved(docID string, revision uint64) {
	msg := ServerMessage{Type: "saved", DocID: docID, Revision: revision}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		c.Enqueue(msg)
	}
}
