package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pieceTableServer/backend/internal/collab"
	"pieceTableServer/backend/internal/ot/delta"
	"pieceTableServer/backend/internal/store"
)

// MetaReader looks up the last persist of a document. Optional.
type MetaReader interface {
	Get(ctx context.Context, docID string) (*store.DocumentMeta, error)
}

type DocumentHandler struct {
	svc  collab.Service
	meta MetaReader
	// 解析 persist 请求中的显式目标；nil 时不支持
	targets store.Backend
}

func NewDocumentHandler(svc collab.Service, meta MetaReader, targets store.Backend) *DocumentHandler {
	return &DocumentHandler{svc: svc, meta: meta, targets: targets}
}

func (h *DocumentHandler) Register(r gin.IRouter) {
	r.GET("", h.List)
	r.POST("/:docId/open", h.Open)
	r.GET("/:docId", h.Get)
	r.GET("/:docId/stats", h.Stats)
	r.GET("/:docId/meta", h.Meta)
	r.POST("/:docId/insert", h.Insert)
	r.POST("/:docId/delete", h.Delete)
	r.POST("/:docId/apply", h.Apply)
	r.POST("/:docId/persist", h.Persist)
	r.DELETE("/:docId", h.Close)
}

type openReq struct {
	// nil: load from the storage backend
	Content *string `json:"content"`
}

type insertReq struct {
	Pos  *int   `json:"pos" binding:"required"`
	Text string `json:"text"`
}

type deleteReq struct {
	Pos   *int `json:"pos" binding:"required"`
	Count *int `json:"count"` // 默认删除 1 个字符
}

type persistReq struct {
	// 为空时写回存储后端
	Target string `json:"target"`
}

type applyReq struct {
	BaseRevision uint64      `json:"baseRevision"`
	ClientId     string      `json:"clientId" binding:"required"`
	ClientSeq    uint64      `json:"clientSeq"`
	Ops          delta.Delta `json:"ops" binding:"required"`
}

func userID(c *gin.Context) uint64 { return c.GetUint64("userId") }

func (h *DocumentHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"documents": h.svc.Documents()})
}

func (h *DocumentHandler) Open(c *gin.Context) {
	var req openReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	docID := c.Param("docId")
	var (
		st     collab.Stats
		err    error
		status = http.StatusOK
	)
	if req.Content != nil {
		st, err = h.svc.Create(c.Request.Context(), docID, *req.Content)
		status = http.StatusCreated
	} else {
		st, err = h.svc.Open(c.Request.Context(), docID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, st)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	content, revision, err := h.svc.LoadDocumentContent(c.Request.Context(), c.Param("docId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": c.Param("docId"), "content": content, "revision": revision})
}

func (h *DocumentHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), c.Param("docId"), c.Query("pieces") == "1")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *DocumentHandler) Meta(c *gin.Context) {
	if h.meta == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"code": "META_DISABLED", "error": "metadata store not configured"})
		return
	}
	meta, err := h.meta.Get(c.Request.Context(), c.Param("docId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_PERSISTED", "error": "document was never persisted"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *DocumentHandler) Insert(c *gin.Context) {
	var req insertReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	rev, err := h.svc.Insert(c.Request.Context(), c.Param("docId"), userID(c), *req.Pos, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": rev})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	var req deleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	n := 1
	if req.Count != nil {
		n = *req.Count
	}
	rev, err := h.svc.Delete(c.Request.Context(), c.Param("docId"), userID(c), *req.Pos, n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": rev})
}

func (h *DocumentHandler) Apply(c *gin.Context) {
	var req applyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	op, err := h.svc.Submit(c.Request.Context(), c.Param("docId"), userID(c),
		req.BaseRevision, req.ClientId, req.ClientSeq, req.Ops)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *DocumentHandler) Persist(c *gin.Context) {
	var req persistReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	var target store.Target
	if req.Target != "" {
		if h.targets == nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "TARGET_UNSUPPORTED", "error": "explicit persist targets are not configured"})
			return
		}
		target = h.targets.Target(req.Target)
	}
	res, err := h.svc.Persist(c.Request.Context(), c.Param("docId"), target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *DocumentHandler) Close(c *gin.Context) {
	if err := h.svc.Close(c.Request.Context(), c.Param("docId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, collab.ErrInvalidIndex):
		status, code = http.StatusBadRequest, "INVALID_INDEX"
	case errors.Is(err, collab.ErrInvalidOp):
		status, code = http.StatusBadRequest, "INVALID_OP"
	case errors.Is(err, collab.ErrDocumentNotFound), errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, collab.ErrDocumentExists):
		status, code = http.StatusConflict, "ALREADY_OPEN"
	case errors.Is(err, collab.ErrRevisionConflict):
		status, code = http.StatusConflict, "REVISION_CONFLICT"
	case errors.Is(err, collab.ErrDuplicateOrOutOfOrder):
		status, code = http.StatusConflict, "DUPLICATE_OR_OUT_OF_ORDER"
	case errors.Is(err, collab.ErrNoPersistTarget):
		status, code = http.StatusConflict, "NO_PERSIST_TARGET"
	case errors.Is(err, store.ErrPermissionDenied):
		code = "STORAGE_PERMISSION_DENIED"
	case errors.Is(err, store.ErrUncreatable), errors.Is(err, store.ErrWriteFailed):
		code = "STORAGE_WRITE_FAILED"
	case errors.Is(err, store.ErrUnreadable), errors.Is(err, store.ErrMetadata):
		code = "STORAGE_READ_FAILED"
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}
