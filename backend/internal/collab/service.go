package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pieceTableServer/backend/internal/ot/delta"
	"pieceTableServer/backend/internal/store"
)

// 文档服务接口
type Service interface {
	// Open loads docID from the storage backend, or returns the already open document.
	Open(ctx context.Context, docID string) (Stats, error)
	// Create opens a new in-memory document with the given content.
	Create(ctx context.Context, docID, content string) (Stats, error)

	Insert(ctx context.Context, docID string, authorID uint64, pos int, text string) (uint64, error)
	Delete(ctx context.Context, docID string, authorID uint64, pos, n int) (uint64, error)
	Submit(ctx context.Context, docID string, authorID uint64,
		baseRevision uint64, clientID string, clientSeq uint64,
		ops delta.Delta) (AppliedOp, error)

	LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error)
	Stats(ctx context.Context, docID string, withPieces bool) (Stats, error)
	// Persist writes docID to target. A nil target means the storage backend,
	// or the document's own source when no backend is configured.
	Persist(ctx context.Context, docID string, target store.Target) (PersistResult, error)
	Close(ctx context.Context, docID string) error
	Documents() []string
}

// EventPublisher receives DocOpEvents. KafkaDispatcher is the production implementation.
type EventPublisher interface {
	Enqueue(ctx context.Context, evt DocOpEvent) error
}

// MetaRecorder keeps track of the last persist of each document.
type MetaRecorder interface {
	RecordPersist(ctx context.Context, meta store.DocumentMeta) error
}

type AppliedOp struct {
	OperationID string      `json:"operationId"` // 本次操作的唯一ID（用于幂等/追踪）
	Revision    uint64      `json:"revision"`
	AuthorID    uint64      `json:"authorId"`
	Ops         delta.Delta `json:"ops"`
	AppliedAt   time.Time   `json:"appliedAt"`
}

type PersistResult struct {
	DocID    string `json:"docId"`
	Target   string `json:"target"`
	Written  int    `json:"written"`
	Revision uint64 `json:"revision"`
}

type docState struct {
	mu  sync.Mutex
	doc *Document
	// 去重窗口：记录某 clientId 最近的最大 clientSeq
	lastSeqByClient map[string]uint64
}

type ServiceOptions struct {
	Backend        store.Backend // nil: documents can only be created in memory
	Events         EventPublisher
	Meta           MetaRecorder
	EnqueueTimeout time.Duration
}

// 内存实现：持有所有已打开文档的状态
type InMemoryService struct {
	mu   sync.RWMutex
	docs map[string]*docState
	sf   singleflight.Group

	backend        store.Backend
	events         EventPublisher
	meta           MetaRecorder
	enqueueTimeout time.Duration
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService(opt ServiceOptions) *InMemoryService {
	if opt.EnqueueTimeout <= 0 {
		opt.EnqueueTimeout = 200 * time.Millisecond
	}
	return &InMemoryService{
		docs:           make(map[string]*docState),
		backend:        opt.Backend,
		events:         opt.Events,
		meta:           opt.Meta,
		enqueueTimeout: opt.EnqueueTimeout,
	}
}

func (s *InMemoryService) get(docID string) (*docState, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return ds, nil
}

func (s *InMemoryService) add(doc *Document) (*docState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds := s.docs[doc.ID()]; ds != nil {
		return ds, false
	}
	ds := &docState{doc: doc, lastSeqByClient: make(map[string]uint64)}
	s.docs[doc.ID()] = ds
	return ds, true
}

func (s *InMemoryService) Open(ctx context.Context, docID string) (Stats, error) {
	if docID == "" {
		return Stats{}, fmt.Errorf("%w: empty document id", ErrDocumentNotFound)
	}
	if ds, err := s.get(docID); err == nil {
		return ds.doc.Stats(false), nil
	}
	if s.backend == nil {
		return Stats{}, fmt.Errorf("%w: %s (no storage backend)", ErrDocumentNotFound, docID)
	}

	// 同一文档的并发打开只加载一次
	v, err, _ := s.sf.Do(docID, func() (any, error) {
		if ds, err := s.get(docID); err == nil {
			return ds, nil
		}
		doc, err := OpenDocument(ctx, docID, s.backend.Source(docID))
		if err != nil {
			return nil, err
		}
		ds, _ := s.add(doc)
		log.Printf("document opened doc=%s backend=%s", docID, s.backend.Name())
		return ds, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(*docState).doc.Stats(false), nil
}

func (s *InMemoryService) Create(ctx context.Context, docID, content string) (Stats, error) {
	if docID == "" {
		return Stats{}, fmt.Errorf("%w: empty document id", ErrDocumentNotFound)
	}
	doc, err := OpenDocument(ctx, docID, store.StringSource{Name: docID, Content: content})
	if err != nil {
		return Stats{}, err
	}
	ds, ok := s.add(doc)
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrDocumentExists, docID)
	}
	return ds.doc.Stats(false), nil
}

func (s *InMemoryService) Insert(ctx context.Context, docID string, authorID uint64, pos int, text string) (uint64, error) {
	ds, err := s.get(docID)
	if err != nil {
		return 0, err
	}
	rev, err := ds.doc.Insert(pos, text)
	if err != nil || text == "" {
		return rev, err
	}
	s.publishEdit(ds.doc, rev, authorID, delta.Delta{delta.Retain(pos), delta.Insert(text)})
	return rev, nil
}

func (s *InMemoryService) Delete(ctx context.Context, docID string, authorID uint64, pos, n int) (uint64, error) {
	ds, err := s.get(docID)
	if err != nil {
		return 0, err
	}
	rev, err := ds.doc.DeleteRange(pos, n)
	if err != nil || n == 0 {
		return rev, err
	}
	s.publishEdit(ds.doc, rev, authorID, delta.Delta{delta.Retain(pos), delta.Delete(n)})
	return rev, nil
}

// 提交操作
func (s *InMemoryService) Submit(ctx context.Context, docID string, authorID uint64, baseRevision uint64, clientID string, clientSeq uint64, ops delta.Delta) (AppliedOp, error) {
	ds, err := s.get(docID)
	if err != nil {
		return AppliedOp{}, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	// 幂等/去重：只允许递增
	if last, ok := ds.lastSeqByClient[clientID]; ok && clientSeq <= last {
		return AppliedOp{}, fmt.Errorf("%w: client %s seq %d, last %d", ErrDuplicateOrOutOfOrder, clientID, clientSeq, last)
	}
	rev, err := ds.doc.ApplyAt(baseRevision, ops)
	if err != nil {
		return AppliedOp{}, err
	}
	ds.lastSeqByClient[clientID] = clientSeq

	applied := AppliedOp{
		OperationID: fmt.Sprintf("o-%d", time.Now().UnixNano()),
		Revision:    rev,
		AuthorID:    authorID,
		Ops:         ops,
		AppliedAt:   time.Now(),
	}
	if rev == baseRevision {
		// 只有 retain 的空操作：确认但不发事件
		return applied, nil
	}
	s.publish(DocOpEvent{
		EventType:    EventOpApplied,
		DocID:        docID,
		OperationID:  applied.OperationID,
		Revision:     rev,
		AuthorID:     authorID,
		ClientID:     clientID,
		ClientSeq:    clientSeq,
		BaseRevision: baseRevision,
		Ops:          ops,
		Length:       ds.doc.Stats(false).Length,
		AppliedAt:    applied.AppliedAt,
	})
	return applied, nil
}

func (s *InMemoryService) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	ds, err := s.get(docID)
	if err != nil {
		return "", 0, err
	}
	text, rev := ds.doc.Text()
	return text, rev, nil
}

func (s *InMemoryService) Stats(ctx context.Context, docID string, withPieces bool) (Stats, error) {
	ds, err := s.get(docID)
	if err != nil {
		return Stats{}, err
	}
	return ds.doc.Stats(withPieces), nil
}

func (s *InMemoryService) Persist(ctx context.Context, docID string, target store.Target) (PersistResult, error) {
	ds, err := s.get(docID)
	if err != nil {
		return PersistResult{}, err
	}
	explicit := target != nil
	if !explicit && s.backend != nil {
		target = s.backend.Target(docID)
	}
	n, err := ds.doc.Persist(ctx, target)
	if err != nil {
		log.Printf("persist failed doc=%s err=%v", docID, err)
		return PersistResult{}, err
	}

	st := ds.doc.Stats(false)
	res := PersistResult{DocID: docID, Target: st.Source, Written: n, Revision: st.Revision}
	if target != nil {
		res.Target = target.Handle()
	}

	if s.meta != nil {
		meta := store.DocumentMeta{
			DocID:       docID,
			Handle:      res.Target,
			Length:      n,
			Revision:    st.Revision,
			PersistedAt: time.Now(),
		}
		if s.backend != nil && !explicit {
			meta.Backend = s.backend.Name()
		}
		if err := s.meta.RecordPersist(ctx, meta); err != nil {
			// 内容已写入，元数据失败只记录日志
			log.Printf("record persist meta failed doc=%s err=%v", docID, err)
		}
	}
	s.publish(DocOpEvent{
		EventType: EventPersisted,
		DocID:     docID,
		Revision:  st.Revision,
		Length:    n,
		Target:    res.Target,
		AppliedAt: time.Now(),
	})
	return res, nil
}

// Close forgets the document. Unpersisted edits are lost.
func (s *InMemoryService) Close(ctx context.Context, docID string) error {
	s.mu.Lock()
	ds := s.docs[docID]
	delete(s.docs, docID)
	s.mu.Unlock()
	if ds == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	st := ds.doc.Stats(false)
	s.publish(DocOpEvent{
		EventType: EventClosed,
		DocID:     docID,
		Revision:  st.Revision,
		Length:    st.Length,
		AppliedAt: time.Now(),
	})
	return nil
}

func (s *InMemoryService) Documents() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *InMemoryService) publishEdit(doc *Document, rev, authorID uint64, ops delta.Delta) {
	s.publish(DocOpEvent{
		EventType: EventOpApplied,
		DocID:     doc.ID(),
		Revision:  rev,
		AuthorID:  authorID,
		Ops:       ops,
		Length:    doc.Stats(false).Length,
		AppliedAt: time.Now(),
	})
}

// 异步发事件（不阻塞编辑主流程）
func (s *InMemoryService) publish(evt DocOpEvent) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.enqueueTimeout)
	defer cancel()
	if err := s.events.Enqueue(ctx, evt); err != nil && !errors.Is(err, ErrDispatcherClosed) {
		log.Printf("enqueue event failed doc=%s type=%s rev=%d err=%v", evt.DocID, evt.EventType, evt.Revision, err)
	}
}
