package reasoning

import "strings"

// Option configures a Classifier.
type Option func(*Classifier)

// WithCarryOver makes the classifier hold back a fragment tail that could be
// the start of the tag it is looking for, so tags split across fragments are
// still stripped. The held bytes are released by the next Push or Finalize.
func WithCarryOver() Option {
	return func(c *Classifier) { c.carryOver = true }
}

// Classifier owns the StreamState of a single response. It is not safe for
// concurrent use.
type Classifier struct {
	state     StreamState
	carryOver bool
	pending   string
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push feeds the next fragment and returns the updated state.
func (c *Classifier) Push(fragment string) StreamState {
	if !c.carryOver {
		c.state = Apply(c.state, fragment)
		return c.state
	}

	text := c.pending + fragment
	c.pending = ""
	if text == "" {
		return c.state
	}

	// Consume complete tags first so the held tail is measured against the
	// tag that is actually open at the end of the text.
	state := c.state
	for {
		tag := StartTag
		if state.InsideHidden {
			tag = EndTag
		}
		i := strings.Index(text, tag)
		if i < 0 {
			break
		}
		state = Apply(state, text[:i+len(tag)])
		text = text[i+len(tag):]
	}

	tag := StartTag
	if state.InsideHidden {
		tag = EndTag
	}
	if n := partialSuffix(text, tag); n > 0 {
		c.pending = text[len(text)-n:]
		text = text[:len(text)-n]
	}
	c.state = Apply(state, text)
	return c.state
}

// AppendVisible adds text that bypasses classification, such as rendered
// tool output, to the visible buffer. Held bytes are flushed first so output
// order is kept.
func (c *Classifier) AppendVisible(text string) StreamState {
	if c.pending != "" {
		c.state = Apply(c.state, c.pending)
		c.pending = ""
	}
	c.state.Visible += text
	return c.state
}

// State returns the current state without flushing held bytes.
func (c *Classifier) State() StreamState {
	return c.state
}

// Finalize flushes any held bytes into the open buffer and returns both
// buffers. Calling it again returns the same values.
func (c *Classifier) Finalize() (visible, hidden string) {
	if c.pending != "" {
		c.state = Apply(c.state, c.pending)
		c.pending = ""
	}
	return Finalize(c.state)
}

// partialSuffix reports the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
