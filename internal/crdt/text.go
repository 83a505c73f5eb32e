package crdt

import "sort"

// ID identifies a single character across replicas.
type ID struct {
	Replica string `json:"r"`
	Counter int    `json:"c"`
}

// Head is the sentinel parent of the first character.
var Head = ID{}

// before gives the deterministic sibling order: concurrent inserts under the
// same parent are placed newest-first, ties broken by replica id.
func (a ID) before(b ID) bool {
	if a.Counter != b.Counter {
		return a.Counter > b.Counter
	}
	return a.Replica > b.Replica
}

type TextOpKind string

const (
	TextInsert TextOpKind = "ins"
	TextDelete TextOpKind = "del"
)

// TextOp is a single replicated edit. For inserts Elem is the new character
// id and Parent the character it goes after (Head for position 0); for
// deletes Elem is the tombstone target.
type TextOp struct {
	Kind   TextOpKind `json:"k"`
	Parent ID         `json:"p,omitempty"`
	Elem   ID         `json:"e"`
	Ch     rune       `json:"ch,omitempty"`
}

type textElem struct {
	ch      rune
	visible bool
}

// Text is one replica of the shared character sequence. Inserts are
// parent-addressed, deletes tombstone, and ops arriving before their
// dependencies are buffered, so applying any interleaving of the same op
// set converges to the same string. Apply is idempotent.
//
// Not safe for concurrent use; the session serializes access.
type Text struct {
	replica string
	clock   int

	elems    map[ID]*textElem
	children map[ID][]ID
	pendIns  map[ID][]TextOp // parent -> inserts waiting for it
	pendDel  map[ID][]TextOp // target -> deletes waiting for it

	order []ID
	runes []rune
	dirty bool
}

func NewText(replica string) *Text {
	return &Text{
		replica:  replica,
		elems:    make(map[ID]*textElem),
		children: make(map[ID][]ID),
		pendIns:  make(map[ID][]TextOp),
		pendDel:  make(map[ID][]TextOp),
		dirty:    true,
	}
}

func (t *Text) String() string {
	t.rebuild()
	return string(t.runes)
}

func (t *Text) Len() int {
	t.rebuild()
	return len(t.runes)
}

// InsertString inserts s at the visible index, applying the ops locally and
// returning them for broadcast. Characters chain off each other so a typed
// run stays contiguous under concurrent edits.
func (t *Text) InsertString(index int, s string) []TextOp {
	parent := t.parentFor(index)
	runes := []rune(s)
	ops := make([]TextOp, 0, len(runes))
	for _, ch := range runes {
		t.clock++
		op := TextOp{
			Kind:   TextInsert,
			Parent: parent,
			Elem:   ID{Replica: t.replica, Counter: t.clock},
			Ch:     ch,
		}
		t.Apply(op)
		ops = append(ops, op)
		parent = op.Elem
	}
	return ops
}

// DeleteRange tombstones n characters starting at the visible index.
func (t *Text) DeleteRange(index, n int) []TextOp {
	var ops []TextOp
	for i := 0; i < n; i++ {
		id, ok := t.idAt(index) // the range shifts left as characters vanish
		if !ok {
			break
		}
		op := TextOp{Kind: TextDelete, Elem: id}
		t.Apply(op)
		ops = append(ops, op)
	}
	return ops
}

// DeleteAll clears the whole visible sequence.
func (t *Text) DeleteAll() []TextOp {
	return t.DeleteRange(0, t.Len())
}

// Apply merges one op into the replica. Duplicate deliveries are no-ops;
// ops whose parent or target is unknown are buffered until it arrives.
// Reports whether the visible sequence may have changed.
func (t *Text) Apply(op TextOp) bool {
	switch op.Kind {
	case TextInsert:
		return t.applyInsert(op)
	case TextDelete:
		return t.applyDelete(op)
	}
	return false
}

func (t *Text) applyInsert(op TextOp) bool {
	if _, dup := t.elems[op.Elem]; dup {
		return false
	}
	if op.Parent != Head {
		if _, known := t.elems[op.Parent]; !known {
			t.pendIns[op.Parent] = append(t.pendIns[op.Parent], op)
			return false
		}
	}

	t.elems[op.Elem] = &textElem{ch: op.Ch, visible: true}

	kids := t.children[op.Parent]
	at := sort.Search(len(kids), func(i int) bool { return !kids[i].before(op.Elem) })
	kids = append(kids, ID{})
	copy(kids[at+1:], kids[at:])
	kids[at] = op.Elem
	t.children[op.Parent] = kids
	t.dirty = true

	if op.Elem.Replica == t.replica && op.Elem.Counter > t.clock {
		t.clock = op.Elem.Counter
	}

	for _, del := range t.pendDel[op.Elem] {
		t.applyDelete(del)
	}
	delete(t.pendDel, op.Elem)

	queued := t.pendIns[op.Elem]
	delete(t.pendIns, op.Elem)
	for _, child := range queued {
		t.applyInsert(child)
	}
	return true
}

func (t *Text) applyDelete(op TextOp) bool {
	elem, known := t.elems[op.Elem]
	if !known {
		t.pendDel[op.Elem] = append(t.pendDel[op.Elem], op)
		return false
	}
	if !elem.visible {
		return false
	}
	elem.visible = false
	t.dirty = true
	return true
}

// rebuild linearizes the tree: depth-first from Head, children in sibling
// order, collecting visible characters.
func (t *Text) rebuild() {
	if !t.dirty {
		return
	}
	t.order = t.order[:0]
	t.runes = t.runes[:0]

	stack := make([]ID, 0, 64)
	push := func(kids []ID) {
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	push(t.children[Head])
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if elem := t.elems[id]; elem.visible {
			t.order = append(t.order, id)
			t.runes = append(t.runes, elem.ch)
		}
		push(t.children[id])
	}
	t.dirty = false
}

// AllOps re-exports every known edit, parents before children so a fresh
// replica replays it without buffering. Tombstoned characters ship as an
// insert followed by a delete.
func (t *Text) AllOps() []TextOp {
	ops := make([]TextOp, 0, len(t.elems))
	type frame struct{ parent, id ID }
	stack := make([]frame, 0, 64)
	push := func(parent ID) {
		kids := t.children[parent]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{parent: parent, id: kids[i]})
		}
	}
	push(Head)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		elem := t.elems[f.id]
		ops = append(ops, TextOp{Kind: TextInsert, Parent: f.parent, Elem: f.id, Ch: elem.ch})
		if !elem.visible {
			ops = append(ops, TextOp{Kind: TextDelete, Elem: f.id})
		}
		push(f.id)
	}
	return ops
}

func (t *Text) idAt(index int) (ID, bool) {
	t.rebuild()
	if index < 0 || index >= len(t.order) {
		return ID{}, false
	}
	return t.order[index], true
}

func (t *Text) parentFor(index int) ID {
	if index <= 0 {
		return Head
	}
	id, ok := t.idAt(index - 1)
	if !ok {
		t.rebuild()
		if len(t.order) == 0 {
			return Head
		}
		return t.order[len(t.order)-1]
	}
	return id
}
