package tensor

import (
	"errors"
	"strconv"
	"strings"
)

// Dynamic marks a dimension whose size is only known at run time.
const Dynamic int64 = -1

// Shape lists tensor dimensions, outermost first.
type Shape []int64

func (s Shape) Rank() int { return len(s) }

// Elements returns the element count. A rank-0 shape holds one element.
func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape(nil), s...)
}

// Validate rejects negative dimensions. Dynamic dimensions are only valid in
// declared signatures, never in concrete tensors.
func (s Shape) Validate() error {
	for _, d := range s {
		if d < 0 {
			return errors.New("tensor: negative dimension in " + s.String())
		}
	}
	return nil
}

// Matches reports whether concrete shape s satisfies declared shape want,
// where Dynamic (or any negative) dims in want match any size.
func (s Shape) Matches(want Shape) bool {
	if len(s) != len(want) {
		return false
	}
	for i, d := range want {
		if d >= 0 && s[i] != d {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, d := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		if d < 0 {
			b.WriteByte('?')
			continue
		}
		b.WriteString(strconv.FormatInt(d, 10))
	}
	b.WriteByte(']')
	return b.String()
}
