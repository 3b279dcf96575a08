// internal/dom/document.go
package dom

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NodeID is a stable handle to a node for the lifetime of its document.
// Zero is never a valid id.
type NodeID uint32

// MutationType classifies a mutation record.
type MutationType int

const (
	MutationAttributes MutationType = iota
	MutationChildList
	MutationCharacterData
)

func (t MutationType) String() string {
	switch t {
	case MutationAttributes:
		return "attributes"
	case MutationChildList:
		return "childList"
	default:
		return "characterData"
	}
}

// MutationRecord describes one synchronous DOM mutation.
type MutationRecord struct {
	Type          MutationType
	Target        NodeID
	AttributeName string
	AddedNodes    []NodeID
	RemovedNodes  []NodeID
}

// MutationObserver is a recording stub: it collects the records of every
// mutation after registration and exposes them; it does not fire microtasks.
type MutationObserver struct {
	mu      sync.Mutex
	records []MutationRecord
}

// Records returns a copy of the collected records.
func (o *MutationObserver) Records() []MutationRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]MutationRecord, len(o.records))
	copy(out, o.records)
	return out
}

// TakeRecords returns and clears the collected records.
func (o *MutationObserver) TakeRecords() []MutationRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.records
	o.records = nil
	return out
}

func (o *MutationObserver) deliver(r MutationRecord) {
	o.mu.Lock()
	o.records = append(o.records, r)
	o.mu.Unlock()
}

// Document wraps a parsed HTML tree with stable node identity, a mutation
// surface, and query helpers. Nodes are owned by the underlying tree;
// NodeIDs are non-owning handles that die with the document.
type Document struct {
	mu        sync.RWMutex
	root      *html.Node
	baseURL   *url.URL
	ids       map[*html.Node]NodeID
	byID      []*html.Node
	observers []*MutationObserver
	warnings  []string
}

// Parse builds a document from raw HTML. Malformed input is tolerated; the
// parser produces its best-effort tree. Empty input yields a bare document
// root with no children.
func Parse(data []byte, base *url.URL) (*Document, error) {
	doc := &Document{
		baseURL: base,
		ids:     make(map[*html.Node]NodeID),
	}
	if len(bytes.TrimSpace(data)) == 0 {
		doc.root = &html.Node{Type: html.DocumentNode}
		return doc, nil
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		// x/net/html recovers from almost anything; a hard error means the
		// reader failed, which cannot happen for a byte slice, but keep the
		// contract honest.
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	doc.root = root
	if baseEl := htmlquery.FindOne(root, "//base"); baseEl != nil && base != nil {
		if href, ok := Attr(baseEl, "href"); ok && href != "" {
			if resolved, err := base.Parse(href); err == nil {
				doc.baseURL = resolved
			}
		}
	}
	return doc, nil
}

// AddWarning appends a parse or load warning visible to callers.
func (d *Document) AddWarning(w string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.warnings = append(d.warnings, w)
}

// Warnings returns collected warnings.
func (d *Document) Warnings() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.warnings))
	copy(out, d.warnings)
	return out
}

// BaseURL returns the document base, honoring a <base href>.
func (d *Document) BaseURL() *url.URL { return d.baseURL }

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return htmlquery.FindOne(d.root, "//body")
}

// Head returns the head element, or nil.
func (d *Document) Head() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return htmlquery.FindOne(d.root, "//head")
}

// IDFor returns the stable id of a node, assigning one on first touch.
func (d *Document) IDFor(n *html.Node) NodeID {
	if n == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.byID = append(d.byID, n)
	id := NodeID(len(d.byID))
	d.ids[n] = id
	return id
}

// NodeByID resolves a previously issued id, or nil.
func (d *Document) NodeByID(id NodeID) *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id == 0 || int(id) > len(d.byID) {
		return nil
	}
	return d.byID[id-1]
}

// Observe registers a mutation observer stub.
func (d *Document) Observe(o *MutationObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Document) notify(r MutationRecord) {
	// Called with d.mu held; observer delivery uses the observer's own lock.
	for _, o := range d.observers {
		o.deliver(r)
	}
}

// --- Queries ---

// Query finds the first node matching an XPath expression.
func (d *Document) Query(xpath string) (*html.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return htmlquery.Query(d.root, xpath)
}

// QueryAll finds every node matching an XPath expression.
func (d *Document) QueryAll(xpath string) ([]*html.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return htmlquery.QueryAll(d.root, xpath)
}

// GetElementByID returns the element with the given id attribute, or nil.
func (d *Document) GetElementByID(id string) *html.Node {
	if strings.Contains(id, "'") {
		return nil
	}
	n, _ := d.Query(fmt.Sprintf("//*[@id='%s']", id))
	return n
}

// ElementsByTag returns all elements with the given tag name in document order.
func (d *Document) ElementsByTag(tag string) []*html.Node {
	nodes, _ := d.QueryAll("//" + strings.ToLower(tag))
	return nodes
}

// --- Attribute access ---

// Attr returns the value of an attribute and whether it is present.
func Attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttribute writes an attribute, preserving insertion order, and emits a
// mutation record.
func (d *Document) SetAttribute(n *html.Node, name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			d.notify(MutationRecord{Type: MutationAttributes, Target: d.idLocked(n), AttributeName: name})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	d.notify(MutationRecord{Type: MutationAttributes, Target: d.idLocked(n), AttributeName: name})
}

// RemoveAttribute deletes an attribute if present.
func (d *Document) RemoveAttribute(n *html.Node, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.notify(MutationRecord{Type: MutationAttributes, Target: d.idLocked(n), AttributeName: name})
			return
		}
	}
}

// idLocked assigns/returns an id while d.mu is already held for writing.
func (d *Document) idLocked(n *html.Node) NodeID {
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.byID = append(d.byID, n)
	id := NodeID(len(d.byID))
	d.ids[n] = id
	return id
}

// --- Tree mutation ---

// AppendChild moves child under parent, detaching it first if needed.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	d.notify(MutationRecord{Type: MutationChildList, Target: d.idLocked(parent), AddedNodes: []NodeID{d.idLocked(child)}})
}

// RemoveChild detaches child from parent; it is an error if child does not
// belong to parent.
func (d *Document) RemoveChild(parent, child *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if child.Parent != parent {
		return fmt.Errorf("dom: node is not a child of the given parent")
	}
	parent.RemoveChild(child)
	d.notify(MutationRecord{Type: MutationChildList, Target: d.idLocked(parent), RemovedNodes: []NodeID{d.idLocked(child)}})
	return nil
}

// InsertBefore inserts child under parent before ref; a nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref != nil && ref.Parent != parent {
		return fmt.Errorf("dom: reference node is not a child of the given parent")
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, ref)
	d.notify(MutationRecord{Type: MutationChildList, Target: d.idLocked(parent), AddedNodes: []NodeID{d.idLocked(child)}})
	return nil
}

// SetInnerHTML re-parses the string as a fragment in the element's context
// and swaps the children atomically. Sink classification happens in the JS
// layer before this call, so the raw string is already captured.
func (d *Document) SetInnerHTML(n *html.Node, fragment string) error {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), n)
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := MutationRecord{Type: MutationChildList, Target: d.idLocked(n)}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		rec.RemovedNodes = append(rec.RemovedNodes, d.idLocked(c))
		n.RemoveChild(c)
		c = next
	}
	for _, nn := range nodes {
		n.AppendChild(nn)
		rec.AddedNodes = append(rec.AddedNodes, d.idLocked(nn))
	}
	d.notify(rec)
	return nil
}

// SetOuterHTML replaces the element itself with the parsed fragment.
func (d *Document) SetOuterHTML(n *html.Node, fragment string) error {
	parent := n.Parent
	if parent == nil {
		return fmt.Errorf("dom: outerHTML on a detached node")
	}
	context := parent
	if context.Type != html.ElementNode {
		context = n
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := MutationRecord{Type: MutationChildList, Target: d.idLocked(parent), RemovedNodes: []NodeID{d.idLocked(n)}}
	ref := n.NextSibling
	parent.RemoveChild(n)
	for _, nn := range nodes {
		parent.InsertBefore(nn, ref)
		rec.AddedNodes = append(rec.AddedNodes, d.idLocked(nn))
	}
	d.notify(rec)
	return nil
}

// SetTextContent replaces children with a single text node.
func (d *Document) SetTextContent(n *html.Node, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := MutationRecord{Type: MutationChildList, Target: d.idLocked(n)}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		rec.RemovedNodes = append(rec.RemovedNodes, d.idLocked(c))
		n.RemoveChild(c)
		c = next
	}
	textNode := &html.Node{Type: html.TextNode, Data: text}
	n.AppendChild(textNode)
	rec.AddedNodes = append(rec.AddedNodes, d.idLocked(textNode))
	d.notify(rec)
}

// Write appends parsed markup to the body, modeling document.write after the
// document is loaded. Classification of the raw string happens upstream.
func (d *Document) Write(markup string) error {
	body := d.Body()
	if body == nil {
		body = d.root
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext(body))
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := MutationRecord{Type: MutationChildList, Target: d.idLocked(body)}
	for _, nn := range nodes {
		body.AppendChild(nn)
		rec.AddedNodes = append(rec.AddedNodes, d.idLocked(nn))
	}
	d.notify(rec)
	return nil
}

func fragmentContext(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

// CreateElement returns a detached element node.
func CreateElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
}

// CreateTextNode returns a detached text node.
func CreateTextNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// --- Serialization ---

// InnerHTML serializes the children of a node.
func (d *Document) InnerHTML(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return renderChildren(n)
}

// OuterHTML serializes the node and its children.
func (d *Document) OuterHTML(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var sb strings.Builder
	if err := html.Render(&sb, n); err != nil {
		return ""
	}
	return sb.String()
}

// HTML serializes the whole document.
func (d *Document) HTML() string {
	return d.OuterHTML(d.root)
}

// Text returns the concatenated text of a node and its descendants.
func (d *Document) Text(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return htmlquery.InnerText(n)
}

func renderChildren(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			break
		}
	}
	return sb.String()
}
