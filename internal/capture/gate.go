package capture

import "strings"

// gate filters recognizer results: interim text always passes, finals only
// when their confidence clears the threshold. It is confined to the engine
// loop.
type gate struct {
	threshold float64
	interim   string

	onInterim func(text string)
	onFinal   func(text string, confidence float64)
}

// partial replaces the interim text and reports it.
func (g *gate) partial(text string) {
	g.interim = text
	g.onInterim(text)
}

// final evaluates a committed result. It reports whether the result was
// delivered. Blank finals are ignored without touching the interim text.
// Rejected finals clear the interim text silently.
func (g *gate) final(text string, confidence float64) (accepted, ignored bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, true
	}
	if confidence < g.threshold {
		g.interim = ""
		return false, false
	}
	g.clearInterim()
	g.onFinal(text, confidence)
	return true, false
}

// clearInterim empties the interim text, reporting "" if it was non-empty.
func (g *gate) clearInterim() {
	if g.interim == "" {
		return
	}
	g.interim = ""
	g.onInterim("")
}

// reset drops the interim text without reporting it.
func (g *gate) reset() {
	g.interim = ""
}
