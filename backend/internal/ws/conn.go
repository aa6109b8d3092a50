package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"pieceTableServer/backend/internal/collab"
	"pieceTableServer/backend/internal/store"
)

const (
	writeWait    = 10 * time.Second
	submitWait   = 200 * time.Millisecond
	sendQueueLen = 32
)

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	docID    string
	userID   uint64
	username string
	send     chan OutboundMessage
	svc      collab.Service
	// 限制并发提交
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, sendQueueLen),
		svc:      svc,
		sem:      sem,
	}
}

// Enqueue drops msg when the connection's send queue is full.
func (c *Conn) Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
		// docID 由 readLoop 修改，这里不读取
		log.Printf("send queue full, drop message type=%s user=%d", msg.MessageType(), c.userID)
	}
}

func (c *Conn) sendError(docID string, err error) {
	c.Enqueue(ServerMessage{Type: "error", DocID: docID, Content: err.Error()})
}

// join switches the connection to docID, opening the document from storage
// if nobody has it open yet.
func (c *Conn) join(ctx context.Context, docID string) {
	if docID == "" {
		c.sendError("", errors.New("missing docId"))
		return
	}
	if _, err := c.svc.Open(ctx, docID); err != nil {
		log.Printf("open document error doc=%s: %v", docID, err)
		c.sendError(docID, err)
		return
	}
	if c.docID != "" && c.docID != docID {
		// 先离开旧房间
		c.hub.Leave(ctx, c.docID, c)
	}
	c.docID = docID
	c.hub.Join(ctx, docID, c)

	content, revision, err := c.svc.LoadDocumentContent(ctx, docID)
	if err != nil {
		c.sendError(docID, err)
		return
	}
	c.Enqueue(ServerMessage{
		Type:     "joinDocument",
		DocID:    docID,
		Revision: revision,
		Content:  content,
		Members:  c.hub.Members(ctx, docID),
	})
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	submitCtx, cancel := context.WithTimeout(ctx, submitWait)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.sendError(msg.DocID, err)
		return
	}
	defer c.sem.Release()

	op, err := c.svc.Submit(submitCtx, msg.DocID, c.userID,
		msg.BaseRevision, msg.ClientId, msg.ClientSeq, msg.Ops)
	if err != nil {
		c.sendError(msg.DocID, err)
		return
	}
	c.Enqueue(OpAppliedMessage{
		Type:            "op_applied",
		DocID:           msg.DocID,
		OperationID:     op.OperationID,
		BaseRevision:    msg.BaseRevision,
		CurrentRevision: op.Revision,
		ClientId:        msg.ClientId,
		ClientSeq:       msg.ClientSeq,
	})
	if op.Revision != msg.BaseRevision {
		c.hub.BroadcastAppliedOp(msg.DocID, c, msg.ClientId, msg.ClientSeq, op)
	}
}

func (c *Conn) handleSave(ctx context.Context, docID string) {
	res, err := c.svc.Persist(ctx, docID, nil)
	if err != nil {
		log.Printf("save document error doc=%s: %v", docID, err)
		content := "Document " + docID + " save failed: " + err.Error()
		if errors.Is(err, collab.ErrNoPersistTarget) || errors.Is(err, store.ErrPermissionDenied) {
			content = err.Error()
		}
		c.Enqueue(ServerMessage{Type: "error", DocID: docID, Content: content})
		return
	}
	c.Enqueue(ServerMessage{Type: "saveDocument", DocID: docID, Revision: res.Revision, Content: "Document " + docID + " saved to " + res.Target})
	c.hub.BroadcastSaved(docID, res.Revision)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.hub.Leave(context.Background(), c.docID, c)
		close(c.send)
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
			}
			return
		}
		// 不带 docId 的消息作用于当前房间
		if msg.DocID == "" {
			msg.DocID = c.docID
		}
		switch msg.Type {
		case "heartbeat":
			if c.docID != "" {
				c.hub.touch(ctx, c.docID, c)
			}
			c.Enqueue(ServerMessage{Type: "presence", DocID: c.docID, Members: c.hub.Members(ctx, c.docID)})

		case "joinDocument":
			c.join(ctx, msg.DocID)

		case "leaveDocument":
			c.hub.Leave(ctx, c.docID, c)
			c.docID = ""

		case "op_submit":
			c.handleOpSubmit(ctx, msg)

		case "saveDocument":
			c.handleSave(ctx, msg.DocID)

		case "loadDocumentContent":
			content, revision, err := c.svc.LoadDocumentContent(ctx, msg.DocID)
			if err != nil {
				log.Printf("load document content error doc=%s: %v", msg.DocID, err)
				c.sendError(msg.DocID, err)
				continue
			}
			c.Enqueue(ServerMessage{Type: "loadDocumentContent", DocID: msg.DocID, Content: content, Revision: revision})

		default:
			c.Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的消息，直到 readLoop 关闭 send
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("write json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
		}
	}
}
