package delta

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind   `json:"kind"`            // "retain" / "insert" / "delete"
	Count int    `json:"count,omitempty"` // retain/delete length, in runes
	Text  string `json:"text,omitempty"`  // insert text
}

// Delta is applied left to right against a moving cursor that starts at 0.
// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]
type Delta []Op

func Retain(n int) Op       { return Op{Kind: KindRetain, Count: n} }
func Insert(text string) Op { return Op{Kind: KindInsert, Text: text} }
func Delete(n int) Op       { return Op{Kind: KindDelete, Count: n} }

// Changes reports whether applying d inserts or deletes at least one rune.
func (d Delta) Changes() bool {
	for _, op := range d {
		switch op.Kind {
		case KindInsert:
			if op.Text != "" {
				return true
			}
		case KindDelete:
			if op.Count > 0 {
				return true
			}
		}
	}
	return false
}
