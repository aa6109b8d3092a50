package collab

import "pieceTableServer/backend/internal/ot/delta"

// Buffer is the editable content of one document.
type Buffer interface {
	Len() int
	Insert(pos int, text string) error
	Delete(pos int) error
	DeleteRange(pos, n int) error
	Apply(d delta.Delta) error
	Reset(content string)
	String() string
}

/*
Layout example

Initial content "Hello world":

- original buffer: "Hello world"
- add buffer:      ""
- pieces:

[ (orig, offset=0, length=11) ]

Insert(5, " collaborative"):
- " collaborative" is appended to the add buffer (add = " collaborative")
- the single piece is split around position 5:

[
  (orig, offset=0, length=5),   // "Hello"
  (add,  offset=0, length=14),  // " collaborative"
  (orig, offset=5, length=6),   // " world"
]

Insert(19, "!") right after the previous insert only grows the add piece to
length 15; typing at one cursor keeps the piece count flat.

Delete(5) on the table above advances the add piece to (add, offset=1, length=14).
Deleting the last rune of a piece removes it, and if its neighbours are now
adjacent spans of the same buffer they are merged back into one piece.
*/
