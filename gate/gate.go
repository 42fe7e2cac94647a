package gate

import (
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/consentgate/consent"
	"github.com/hazyhaar/consentgate/idgen"
)

// scriptState is the per-placeholder lifecycle. A placeholder is Active when
// a live twin for it exists in the document (marked by AttrEnabled).
type scriptState int

const (
	stateInactive scriptState = iota
	stateActive
)

// gateAction is what one pass does to one placeholder.
type gateAction int

const (
	actionNone gateAction = iota
	actionActivate
	actionDeactivate
)

// transition is the Inactive <-> Active table: the only state changes are
// Inactive+granted -> activate and Active+!granted -> deactivate. Everything
// else is a no-op, which is what makes repeated passes idempotent.
func transition(state scriptState, granted bool) gateAction {
	switch {
	case state == stateInactive && granted:
		return actionActivate
	case state == stateActive && !granted:
		return actionDeactivate
	default:
		return actionNone
	}
}

func stateOf(placeholder *html.Node) scriptState {
	if hasAttr(placeholder, AttrEnabled) {
		return stateActive
	}
	return stateInactive
}

// controlAttrs are gating mechanics, never copied onto the live node.
var controlAttrs = map[string]bool{
	"type":       true,
	AttrCategory: true,
	AttrSrc:      true,
	AttrEnabled:  true,
	AttrID:       true,
}

// Gate applies consent decisions to one document.
type Gate struct {
	doc    *Document
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithIDGenerator overrides the correlation ID generator (tests).
func WithIDGenerator(gen idgen.Generator) Option {
	return func(g *Gate) { g.newID = gen }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a Gate over a document.
func New(doc *Document, opts ...Option) *Gate {
	g := &Gate{
		doc:    doc,
		newID:  idgen.Correlation("cg"),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Apply makes the document's live scripts match the choice set and returns
// the counts for this pass only. A category absent from choices is treated
// as not granted. The scan is fresh on every call.
func (g *Gate) Apply(choices map[string]consent.Choice) consent.GateResult {
	var res consent.GateResult

	for _, placeholder := range g.doc.gatedScripts() {
		category := attrVal(placeholder, AttrCategory)
		granted := choices[category] == consent.Granted

		switch transition(stateOf(placeholder), granted) {
		case actionActivate:
			g.activate(placeholder)
			res.Enabled++
		case actionDeactivate:
			if g.deactivate(placeholder) {
				res.Disabled++
			}
		}
	}

	if res.Enabled > 0 || res.Disabled > 0 {
		g.logger.Debug("gate: pass complete", "enabled", res.Enabled, "disabled", res.Disabled)
	}
	return res
}

// activate materialises an executable twin after the placeholder. The twin
// carries the deferred src or inline body plus every non-control attribute,
// and both nodes record the correlation ID. A script with neither src nor
// body still activates as a no-op node so idempotence holds.
func (g *Gate) activate(placeholder *html.Node) {
	id := attrVal(placeholder, AttrID)
	if id == "" {
		id = g.newID()
		setAttr(placeholder, AttrID, id)
	}

	live := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
	}

	if src := attrVal(placeholder, AttrSrc); src != "" {
		setAttr(live, "src", src)
	}
	if body := textContent(placeholder); body != "" {
		live.AppendChild(&html.Node{Type: html.TextNode, Data: body})
	}
	for _, a := range placeholder.Attr {
		if !controlAttrs[a.Key] {
			setAttr(live, a.Key, a.Val)
		}
	}
	setAttr(live, AttrInjected, "true")
	setAttr(live, AttrID, id)

	setAttr(placeholder, AttrEnabled, "true")
	placeholder.Parent.InsertBefore(live, placeholder.NextSibling)
}

// deactivate removes the live twin(s) recorded for the placeholder and
// clears its activation markers. When no correlation ID was recorded it
// falls back to sweeping the immediate following siblings: whitespace is
// skipped, the sweep stops at the first non-injected node, and injected
// nodes carrying a correlation ID are left alone since they belong to a
// correlated placeholder elsewhere. Reports whether anything was actually
// removed.
func (g *Gate) deactivate(placeholder *html.Node) bool {
	removed := false

	if id := attrVal(placeholder, AttrID); id != "" {
		for _, live := range g.doc.injectedByID(id) {
			if live.Parent != nil {
				live.Parent.RemoveChild(live)
				removed = true
			}
		}
	} else {
		sibling := placeholder.NextSibling
		for sibling != nil {
			next := sibling.NextSibling
			if sibling.Type == html.TextNode && strings.TrimSpace(sibling.Data) == "" {
				sibling = next
				continue
			}
			if sibling.Type != html.ElementNode || sibling.DataAtom != atom.Script || !hasAttr(sibling, AttrInjected) {
				break
			}
			if attrVal(sibling, AttrID) != "" {
				sibling = next
				continue
			}
			placeholder.Parent.RemoveChild(sibling)
			removed = true
			sibling = next
		}
	}

	removeAttr(placeholder, AttrEnabled)
	removeAttr(placeholder, AttrID)
	return removed
}

// GateHTML is the one-shot form: parse, apply, render.
func GateHTML(r io.Reader, w io.Writer, choices map[string]consent.Choice, opts ...Option) (consent.GateResult, error) {
	doc, err := Parse(r)
	if err != nil {
		return consent.GateResult{}, err
	}
	res := New(doc, opts...).Apply(choices)
	if err := doc.Render(w); err != nil {
		return res, err
	}
	return res, nil
}
