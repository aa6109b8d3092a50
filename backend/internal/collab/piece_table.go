package collab

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"pieceTableServer/backend/internal/ot/delta"
)

type bufferKind uint8

const (
	bufOriginal bufferKind = iota // read-only content loaded at open or after persist
	bufAdd                        // append-only runes from inserts
)

func (k bufferKind) String() string {
	switch k {
	case bufOriginal:
		return "original"
	case bufAdd:
		return "add"
	default:
		return fmt.Sprintf("bufferKind(%d)", uint8(k))
	}
}

// piece references the half-open span [offset, offset+length) of one buffer.
type piece struct {
	buf    bufferKind
	offset int
	length int
}

func (p piece) end() int { return p.offset + p.length }

// PieceInfo is a read-only copy of one piece descriptor.
type PieceInfo struct {
	Buffer string `json:"buffer"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// PieceTable is not safe for concurrent use. Document serializes access to it.
// Positions and lengths are counted in runes.
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

var _ Buffer = (*PieceTable)(nil)

func NewPieceTable(initial string) *PieceTable {
	pt := &PieceTable{}
	pt.Reset(initial)
	return pt
}

// Reset makes content the new read-only buffer and drops every edit.
func (pt *PieceTable) Reset(content string) {
	pt.original = []rune(content)
	pt.add = nil
	pt.pieces = nil
	if len(pt.original) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(pt.original)}}
	}
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) PieceCount() int { return len(pt.pieces) }

// AppendLen is the physical size of the append buffer, deleted runes included.
func (pt *PieceTable) AppendLen() int { return len(pt.add) }

func (pt *PieceTable) Pieces() []PieceInfo {
	out := make([]PieceInfo, len(pt.pieces))
	for i, p := range pt.pieces {
		out[i] = PieceInfo{Buffer: p.buf.String(), Offset: p.offset, Length: p.length}
	}
	return out
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	sb.Grow(pt.Len())
	for _, p := range pt.pieces {
		sb.WriteString(string(pt.span(p)))
	}
	return sb.String()
}

func (pt *PieceTable) span(p piece) []rune {
	var src []rune
	switch p.buf {
	case bufOriginal:
		src = pt.original
	case bufAdd:
		src = pt.add
	default:
		panic(fmt.Sprintf("piece table: unknown buffer %s", p.buf))
	}
	if p.offset < 0 || p.length <= 0 || p.end() > len(src) {
		panic(fmt.Sprintf("piece table: span [%d,%d) outside %s buffer of length %d",
			p.offset, p.end(), p.buf, len(src)))
	}
	return src[p.offset:p.end()]
}

// locate returns the piece holding pos and the offset of pos inside it.
// Positions at or past the end resolve to (len(pieces), 0).
func (pt *PieceTable) locate(pos int) (idx, offset int) {
	sum := 0
	for i, p := range pt.pieces {
		if p.length <= 0 {
			panic(fmt.Sprintf("piece table: empty piece at index %d", i))
		}
		if pos < sum+p.length {
			return i, pos - sum
		}
		sum += p.length
	}
	return len(pt.pieces), 0
}

// atBorder reports whether pos falls between two pieces, or at either end of the sequence.
func (pt *PieceTable) atBorder(pos int) (idx int, ok bool) {
	idx, offset := pt.locate(pos)
	return idx, offset == 0
}

func (pt *PieceTable) Insert(pos int, text string) error {
	if pos < 0 || pos > pt.Len() {
		return fmt.Errorf("%w: insert at %d, length %d", ErrInvalidIndex, pos, pt.Len())
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	start := len(pt.add)
	added := piece{buf: bufAdd, offset: start, length: len(runes)}

	if idx, ok := pt.atBorder(pos); ok {
		if idx > 0 && pt.pieces[idx-1].buf == bufAdd && pt.pieces[idx-1].end() == start {
			// typing right after the previous insert
			pt.pieces[idx-1].length += len(runes)
		} else {
			pt.pieces = insertPieces(pt.pieces, idx, added)
		}
	} else {
		idx, offset := pt.locate(pos)
		cur := pt.pieces[idx]
		left := piece{buf: cur.buf, offset: cur.offset, length: offset}
		right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}
		pt.pieces[idx] = left
		pt.pieces = insertPieces(pt.pieces, idx+1, added, right)
	}

	pt.add = append(pt.add, runes...)
	return nil
}

// Delete removes the single rune at pos.
func (pt *PieceTable) Delete(pos int) error {
	if pos < 0 || pos >= pt.Len() {
		return fmt.Errorf("%w: delete at %d, length %d", ErrInvalidIndex, pos, pt.Len())
	}
	idx, offset := pt.locate(pos)
	cur := &pt.pieces[idx]

	switch {
	case offset == 0:
		cur.offset++
		cur.length--
		if cur.length == 0 {
			pt.removePiece(idx)
		}
	case offset == cur.length-1:
		cur.length--
	default:
		right := piece{buf: cur.buf, offset: cur.offset + offset + 1, length: cur.length - offset - 1}
		cur.length = offset
		pt.pieces = insertPieces(pt.pieces, idx+1, right)
	}
	return nil
}

// DeleteRange removes n runes starting at pos. Nothing is removed unless the
// whole range lies inside the document.
func (pt *PieceTable) DeleteRange(pos, n int) error {
	if n < 0 || pos < 0 || pos > pt.Len() || n > pt.Len()-pos {
		return fmt.Errorf("%w: delete %d at %d, length %d", ErrInvalidIndex, n, pos, pt.Len())
	}
	for i := 0; i < n; i++ {
		if err := pt.Delete(pos); err != nil {
			return err
		}
	}
	return nil
}

// Apply runs the ops of d in order. The whole delta is checked against the
// current length first, so a rejected delta leaves the table unchanged.
func (pt *PieceTable) Apply(d delta.Delta) error {
	if err := checkDelta(d, pt.Len()); err != nil {
		return err
	}
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			if err := pt.Insert(pos, op.Text); err != nil {
				return err
			}
			pos += utf8.RuneCountInString(op.Text)
		case delta.KindDelete:
			if err := pt.DeleteRange(pos, op.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDelta(d delta.Delta, length int) error {
	pos := 0
	for i, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			if op.Count < 0 || op.Count > length-pos {
				return fmt.Errorf("%w: op %d retains %d at %d, length %d", ErrInvalidIndex, i, op.Count, pos, length)
			}
			pos += op.Count
		case delta.KindInsert:
			n := utf8.RuneCountInString(op.Text)
			pos += n
			length += n
		case delta.KindDelete:
			if op.Count < 0 || op.Count > length-pos {
				return fmt.Errorf("%w: op %d deletes %d at %d, length %d", ErrInvalidIndex, i, op.Count, pos, length)
			}
			length -= op.Count
		default:
			return fmt.Errorf("%w: op %d has kind %q", ErrInvalidOp, i, op.Kind)
		}
	}
	return nil
}

// insertPieces inserts ps before pieces[idx].
func insertPieces(pieces []piece, idx int, ps ...piece) []piece {
	pieces = append(pieces, ps...)
	copy(pieces[idx+len(ps):], pieces[idx:])
	copy(pieces[idx:], ps)
	return pieces
}

// removePiece drops pieces[idx]. If that leaves two contiguous spans of the
// same buffer next to each other they are merged into one piece.
func (pt *PieceTable) removePiece(idx int) {
	pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
	if idx == 0 || idx >= len(pt.pieces) {
		return
	}
	left, right := &pt.pieces[idx-1], pt.pieces[idx]
	if left.buf == right.buf && left.end() == right.offset {
		left.length += right.length
		pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
	}
}
