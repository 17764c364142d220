package ilgen

import "github.com/chazu/yarvil/il"

// Stack is the abstract evaluation stack: IL nodes standing in for the
// values the interpreter would hold on its operand stack. Element 0 is the
// bottom.
type Stack struct {
	elems []*il.Node
}

// NewStack creates a stack holding a copy of elems.
func NewStack(elems ...*il.Node) *Stack {
	s := &Stack{}
	s.elems = append(s.elems, elems...)
	return s
}

// Push pushes n.
func (s *Stack) Push(n *il.Node) { s.elems = append(s.elems, n) }

// Pop removes and returns the top element.
func (s *Stack) Pop() *il.Node {
	if len(s.elems) == 0 {
		invariant("pop from empty stack")
	}
	n := s.elems[len(s.elems)-1]
	s.elems = s.elems[:len(s.elems)-1]
	return n
}

// Top returns the top element.
func (s *Stack) Top() *il.Node { return s.TopAt(0) }

// TopAt returns the element depth places below the top.
func (s *Stack) TopAt(depth int) *il.Node {
	i := len(s.elems) - 1 - depth
	if depth < 0 || i < 0 {
		invariant("stack depth %d out of range (size %d)", depth, len(s.elems))
	}
	return s.elems[i]
}

// SetAt replaces the element depth places below the top.
func (s *Stack) SetAt(depth int, n *il.Node) {
	i := len(s.elems) - 1 - depth
	if depth < 0 || i < 0 {
		invariant("stack depth %d out of range (size %d)", depth, len(s.elems))
	}
	s.elems[i] = n
}

// DuplicateTop pushes copies of the top n elements, keeping their order.
func (s *Stack) DuplicateTop(n int) {
	if n > len(s.elems) {
		invariant("dupn %d with stack size %d", n, len(s.elems))
	}
	s.elems = append(s.elems, s.elems[len(s.elems)-n:]...)
}

// SwapTop2 exchanges the two topmost elements.
func (s *Stack) SwapTop2() {
	if len(s.elems) < 2 {
		invariant("swap with stack size %d", len(s.elems))
	}
	i := len(s.elems) - 1
	s.elems[i], s.elems[i-1] = s.elems[i-1], s.elems[i]
}

// Truncate pops n elements.
func (s *Stack) Truncate(n int) {
	if n > len(s.elems) {
		invariant("popn %d with stack size %d", n, len(s.elems))
	}
	s.elems = s.elems[:len(s.elems)-n]
}

// Size returns the stack height.
func (s *Stack) Size() int { return len(s.elems) }

// Empty reports whether the stack is empty.
func (s *Stack) Empty() bool { return len(s.elems) == 0 }

// Clear empties the stack.
func (s *Stack) Clear() { s.elems = s.elems[:0] }

// Element returns element i counted from the bottom.
func (s *Stack) Element(i int) *il.Node { return s.elems[i] }

// Clone returns an independent copy.
func (s *Stack) Clone() *Stack { return NewStack(s.elems...) }
