// internal/js/bindings.go
package js

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/squidsec/kalamari/internal/dom"
)

// Environment is what a page lends to its sandbox: the live document,
// location, cookie access, and recorders for stubbed network calls.
type Environment struct {
	Doc       *dom.Document
	PageURL   *url.URL
	FramePath []int

	// CookieHeader renders document.cookie reads; SetCookie handles writes.
	CookieHeader func() string
	SetCookie    func(raw string)

	// RecordRequest captures fetch/XHR calls. The requests never transit.
	RecordRequest func(method, target string, headers map[string]string)

	// LocalStorage and SessionStorage back the window storage objects; the
	// page owns the maps so the auth session can snapshot them.
	LocalStorage   map[string]string
	SessionStorage map[string]string
}

// binder wires one sandbox to one environment. It is rebuilt per navigation
// so hooks are always installed before any author script runs.
type binder struct {
	s      *Sandbox
	vm     *goja.Runtime
	env    *Environment
	logger *zap.Logger
}

// Install sets up window, document, storage, timers, and the sensor hooks.
// It must run before any author script.
func Install(s *Sandbox, env *Environment, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if env.LocalStorage == nil {
		env.LocalStorage = make(map[string]string)
	}
	if env.SessionStorage == nil {
		env.SessionStorage = make(map[string]string)
	}
	b := &binder{s: s, vm: s.VM(), env: env, logger: logger.Named("bindings")}

	b.installConsole()
	b.installTimers()
	b.installSensors()
	window := b.installWindow()
	b.installDocument(window)
	b.installStorage(window)
	b.installNetworkStubs(window)
	b.installMutationObserver()

	if _, err := b.vm.RunString(sensorShim); err != nil {
		return fmt.Errorf("js: install sensor shim: %w", err)
	}
	return nil
}

// sensorShim wraps eval, Function, and XMLHttpRequest at the JS level so the
// originals keep their calling conventions. Installed before author code.
const sensorShim = `(function () {
	var recordEval = __kalamari_eval_hook;
	var recordFn = __kalamari_function_hook;
	var recordXhr = __kalamari_request_hook;

	var nativeEval = eval;
	eval = function (s) {
		if (typeof s !== 'string') { return s; }
		recordEval(s);
		return nativeEval(s);
	};

	var NativeFunction = Function;
	var hooked = function () {
		var body = arguments.length ? String(arguments[arguments.length - 1]) : '';
		recordFn(body);
		return NativeFunction.apply(this, arguments);
	};
	hooked.prototype = NativeFunction.prototype;
	Function = hooked;

	function XMLHttpRequest() {
		this._headers = {};
		this.readyState = 0;
		this.status = 0;
		this.responseText = '';
	}
	XMLHttpRequest.prototype.open = function (method, url) {
		this._method = String(method || 'GET');
		this._url = String(url || '');
		this.readyState = 1;
	};
	XMLHttpRequest.prototype.setRequestHeader = function (name, value) {
		this._headers[String(name)] = String(value);
	};
	XMLHttpRequest.prototype.send = function () {
		recordXhr(this._method || 'GET', this._url || '', this._headers);
		this.readyState = 4;
		if (typeof this.onreadystatechange === 'function') {
			try { this.onreadystatechange(); } catch (e) {}
		}
	};
	XMLHttpRequest.prototype.abort = function () {};
	XMLHttpRequest.prototype.getAllResponseHeaders = function () { return ''; };
	this.XMLHttpRequest = XMLHttpRequest;
	if (typeof window !== 'undefined') { window.XMLHttpRequest = XMLHttpRequest; }
})();`

// --- console ---

func (b *binder) installConsole() {
	console := b.vm.NewObject()
	logFunc := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			b.s.appendConsole(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	console.Set("log", logFunc("info"))
	console.Set("info", logFunc("info"))
	console.Set("warn", logFunc("warn"))
	console.Set("error", logFunc("error"))
	console.Set("debug", logFunc("debug"))
	b.vm.GlobalObject().Set("console", console)
}

// --- timers ---

func (b *binder) installTimers() {
	schedule := func(periodic bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			delay := call.Argument(1).ToInteger()
			var id uint32
			if fn, ok := goja.AssertFunction(arg); ok {
				extra := make([]goja.Value, 0, len(call.Arguments))
				if len(call.Arguments) > 2 {
					extra = append(extra, call.Arguments[2:]...)
				}
				task := func() {
					if _, err := fn(goja.Undefined(), extra...); err != nil {
						b.s.appendConsole("error", err.Error())
					}
				}
				id = b.s.Timers().Schedule("", task, delay, periodic)
			} else {
				// String bodies re-enter the evaluator on flush; they also
				// count as execution sinks when they look like payloads.
				code := arg.String()
				if ClassifyEval(code, b.s.Sensors().Marker()) {
					b.record(TriggerEval, code, 0, true)
				}
				id = b.s.Timers().Schedule(code, nil, delay, periodic)
			}
			return b.vm.ToValue(id)
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		b.s.Timers().Cancel(uint32(call.Argument(0).ToInteger()))
		return goja.Undefined()
	}
	global := b.vm.GlobalObject()
	global.Set("setTimeout", schedule(false))
	global.Set("setInterval", schedule(true))
	global.Set("clearTimeout", cancel)
	global.Set("clearInterval", cancel)
}

// --- sensor hooks ---

func (b *binder) record(kind TriggerKind, payload string, nodeID dom.NodeID, confirmed bool) {
	t := XssTrigger{
		Kind:      kind,
		Payload:   payload,
		NodeID:    uint32(nodeID),
		FramePath: b.env.FramePath,
		Confirmed: confirmed,
	}
	if b.env.PageURL != nil {
		t.URL = b.env.PageURL.String()
	}
	b.s.Sensors().Record(t)
}

func (b *binder) installSensors() {
	global := b.vm.GlobalObject()

	dialog := func(kind TriggerKind, ret goja.Value) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			// Execution context proves code ran: always confirmed.
			b.record(kind, call.Argument(0).String(), 0, true)
			return ret
		}
	}
	global.Set("alert", dialog(TriggerAlert, goja.Undefined()))
	global.Set("confirm", dialog(TriggerConfirm, b.vm.ToValue(true)))
	global.Set("prompt", dialog(TriggerPrompt, goja.Null()))

	global.Set("__kalamari_eval_hook", func(call goja.FunctionCall) goja.Value {
		code := call.Argument(0).String()
		b.record(TriggerEval, code, 0, ClassifyEval(code, b.s.Sensors().Marker()))
		return goja.Undefined()
	})
	global.Set("__kalamari_function_hook", func(call goja.FunctionCall) goja.Value {
		body := call.Argument(0).String()
		b.record(TriggerFunctionCtor, body, 0, ClassifyEval(body, b.s.Sensors().Marker()))
		return goja.Undefined()
	})
	global.Set("__kalamari_request_hook", func(call goja.FunctionCall) goja.Value {
		if b.env.RecordRequest == nil {
			return goja.Undefined()
		}
		method := call.Argument(0).String()
		target := call.Argument(1).String()
		headers := map[string]string{}
		if obj := call.Argument(2).ToObject(b.vm); obj != nil {
			for _, key := range obj.Keys() {
				headers[key] = obj.Get(key).String()
			}
		}
		b.env.RecordRequest(method, target, headers)
		return goja.Undefined()
	})
}

// --- window ---

func (b *binder) installWindow() *goja.Object {
	window := b.vm.NewObject()
	global := b.vm.GlobalObject()

	location := b.vm.NewObject()
	u := b.env.PageURL
	if u == nil {
		u = &url.URL{Scheme: "about", Opaque: "blank"}
	}
	location.Set("href", u.String())
	location.Set("protocol", u.Scheme+":")
	location.Set("host", u.Host)
	location.Set("hostname", u.Hostname())
	location.Set("pathname", u.Path)
	location.Set("search", queryString(u))
	location.Set("hash", fragmentString(u))
	location.Set("origin", u.Scheme+"://"+u.Host)
	location.Set("toString", func(goja.FunctionCall) goja.Value { return b.vm.ToValue(u.String()) })

	navigator := b.vm.NewObject()
	navigator.Set("userAgent", "kalamari")
	navigator.Set("language", "en-US")
	navigator.Set("webdriver", false)

	window.Set("location", location)
	window.Set("navigator", navigator)
	window.Set("alert", global.Get("alert"))
	window.Set("confirm", global.Get("confirm"))
	window.Set("prompt", global.Get("prompt"))
	window.Set("setTimeout", global.Get("setTimeout"))
	window.Set("setInterval", global.Get("setInterval"))
	window.Set("clearTimeout", global.Get("clearTimeout"))
	window.Set("clearInterval", global.Get("clearInterval"))
	window.Set("addEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	window.Set("removeEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	window.Set("self", window)
	window.Set("top", window)
	window.Set("parent", window)

	global.Set("window", window)
	global.Set("self", window)
	global.Set("location", location)
	global.Set("navigator", navigator)
	return window
}

func queryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func fragmentString(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.Fragment
}

// --- storage ---

func (b *binder) installStorage(window *goja.Object) {
	build := func(backing map[string]string) *goja.Object {
		storage := b.vm.NewObject()
		storage.Set("getItem", func(call goja.FunctionCall) goja.Value {
			if v, ok := backing[call.Argument(0).String()]; ok {
				return b.vm.ToValue(v)
			}
			return goja.Null()
		})
		storage.Set("setItem", func(call goja.FunctionCall) goja.Value {
			backing[call.Argument(0).String()] = call.Argument(1).String()
			return goja.Undefined()
		})
		storage.Set("removeItem", func(call goja.FunctionCall) goja.Value {
			delete(backing, call.Argument(0).String())
			return goja.Undefined()
		})
		storage.Set("clear", func(call goja.FunctionCall) goja.Value {
			for k := range backing {
				delete(backing, k)
			}
			return goja.Undefined()
		})
		return storage
	}
	local := build(b.env.LocalStorage)
	session := build(b.env.SessionStorage)
	window.Set("localStorage", local)
	window.Set("sessionStorage", session)
	b.vm.GlobalObject().Set("localStorage", local)
	b.vm.GlobalObject().Set("sessionStorage", session)
}

// --- network stubs ---

func (b *binder) installNetworkStubs(window *goja.Object) {
	fetch := func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0).String()
		method := "GET"
		headers := map[string]string{}
		if init := call.Argument(1); !goja.IsUndefined(init) && !goja.IsNull(init) {
			obj := init.ToObject(b.vm)
			if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) {
				method = m.String()
			}
			if h := obj.Get("headers"); h != nil && !goja.IsUndefined(h) && !goja.IsNull(h) {
				hObj := h.ToObject(b.vm)
				for _, key := range hObj.Keys() {
					headers[key] = hObj.Get(key).String()
				}
			}
		}
		if b.env.RecordRequest != nil {
			b.env.RecordRequest(method, target, headers)
		}
		// A permanently pending thenable: the request never transits, so
		// neither resolution branch can honestly run.
		thenable := b.vm.NewObject()
		var self func() goja.Value
		self = func() goja.Value { return thenable }
		thenable.Set("then", func(goja.FunctionCall) goja.Value { return self() })
		thenable.Set("catch", func(goja.FunctionCall) goja.Value { return self() })
		thenable.Set("finally", func(goja.FunctionCall) goja.Value { return self() })
		return thenable
	}
	window.Set("fetch", fetch)
	b.vm.GlobalObject().Set("fetch", fetch)
}

// --- MutationObserver stub ---

func (b *binder) installMutationObserver() {
	ctor := func(call goja.ConstructorCall) *goja.Object {
		observer := &dom.MutationObserver{}
		call.This.Set("observe", func(goja.FunctionCall) goja.Value {
			b.env.Doc.Observe(observer)
			return goja.Undefined()
		})
		call.This.Set("disconnect", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
		call.This.Set("takeRecords", func(goja.FunctionCall) goja.Value {
			records := observer.TakeRecords()
			out := make([]goja.Value, len(records))
			for i, r := range records {
				rec := b.vm.NewObject()
				rec.Set("type", r.Type.String())
				rec.Set("target", uint32(r.Target))
				out[i] = rec
			}
			items := make([]interface{}, len(out))
			for i, v := range out {
				items[i] = v
			}
			return b.vm.NewArray(items...)
		})
		return nil
	}
	b.vm.GlobalObject().Set("MutationObserver", ctor)
}

// --- document and elements ---

func (b *binder) installDocument(window *goja.Object) {
	docObj := b.vm.NewObject()
	doc := b.env.Doc

	docObj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		n, err := doc.Query(dom.CSSToXPath(selector))
		if err != nil {
			panic(b.vm.NewGoError(fmt.Errorf("invalid selector: %s", selector)))
		}
		return b.wrapNode(n)
	})
	docObj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0).String()
		nodes, err := doc.QueryAll(dom.CSSToXPath(selector))
		if err != nil {
			panic(b.vm.NewGoError(fmt.Errorf("invalid selector: %s", selector)))
		}
		return b.wrapNodeList(nodes)
	})
	docObj.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return b.wrapNode(doc.GetElementByID(call.Argument(0).String()))
	})
	docObj.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return b.wrapNodeList(doc.ElementsByTag(call.Argument(0).String()))
	})
	docObj.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return b.wrapNode(dom.CreateElement(call.Argument(0).String()))
	})
	docObj.Set("createTextNode", func(call goja.FunctionCall) goja.Value {
		return b.wrapNode(dom.CreateTextNode(call.Argument(0).String()))
	})
	docObj.Set("write", func(call goja.FunctionCall) goja.Value {
		markup := call.Argument(0).String()
		if SinkSuspicious(markup) || containsMarker(markup, b.s.Sensors().Marker()) {
			b.record(TriggerDocumentWrite, markup, 0, false)
		}
		if err := doc.Write(markup); err != nil {
			b.logger.Debug("document.write failed", zap.Error(err))
		}
		return goja.Undefined()
	})
	docObj.Set("writeln", func(call goja.FunctionCall) goja.Value {
		markup := call.Argument(0).String() + "\n"
		if SinkSuspicious(markup) || containsMarker(markup, b.s.Sensors().Marker()) {
			b.record(TriggerDocumentWrite, markup, 0, false)
		}
		if err := doc.Write(markup); err != nil {
			b.logger.Debug("document.writeln failed", zap.Error(err))
		}
		return goja.Undefined()
	})
	docObj.Set("addEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	docObj.Set("removeEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	// document.cookie round-trips through the browser jar.
	cookieGetter := b.vm.ToValue(func(goja.FunctionCall) goja.Value {
		if b.env.CookieHeader == nil {
			return b.vm.ToValue("")
		}
		return b.vm.ToValue(b.env.CookieHeader())
	})
	cookieSetter := b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if b.env.SetCookie != nil {
			b.env.SetCookie(call.Argument(0).String())
		}
		return goja.Undefined()
	})
	if err := docObj.DefineAccessorProperty("cookie", cookieGetter, cookieSetter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		b.logger.Error("failed to define document.cookie", zap.Error(err))
	}

	if body := doc.Body(); body != nil {
		docObj.Set("body", b.wrapNode(body))
	} else {
		docObj.Set("body", goja.Null())
	}
	if head := doc.Head(); head != nil {
		docObj.Set("head", b.wrapNode(head))
	} else {
		docObj.Set("head", goja.Null())
	}
	if u := b.env.PageURL; u != nil {
		docObj.Set("URL", u.String())
		docObj.Set("documentURI", u.String())
	}

	b.vm.GlobalObject().Set("document", docObj)
	window.Set("document", docObj)
}

func (b *binder) wrapNodeList(nodes []*html.Node) goja.Value {
	out := make([]goja.Value, len(nodes))
	for i, n := range nodes {
		out[i] = b.wrapNode(n)
	}
	items := make([]interface{}, len(out))
	for i, v := range out {
		items[i] = v
	}
	return b.vm.NewArray(items...)
}

// element wraps one DOM node for JS consumption.
type element struct {
	b    *binder
	node *html.Node
	obj  *goja.Object
}

func (b *binder) wrapNode(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	e := &element{b: b, node: n}
	e.obj = b.vm.NewObject()
	e.obj.DefineDataProperty("__kalamari_node__", b.vm.ToValue(e), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	e.obj.Set("nodeType", nodeType(n))
	e.obj.Set("nodeName", nodeName(n))
	e.defineGetter("parentNode", func() goja.Value { return b.wrapNode(n.Parent) })
	e.defineGetter("firstChild", func() goja.Value { return b.wrapNode(n.FirstChild) })
	e.defineGetter("nextSibling", func() goja.Value { return b.wrapNode(n.NextSibling) })
	e.defineGetter("childNodes", func() goja.Value {
		var children []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			children = append(children, c)
		}
		return b.wrapNodeList(children)
	})
	e.obj.Set("appendChild", e.appendChild)
	e.obj.Set("removeChild", e.removeChild)
	e.obj.Set("insertBefore", e.insertBefore)

	if n.Type == html.ElementNode {
		e.obj.Set("tagName", strings.ToUpper(n.Data))
		e.obj.Set("getAttribute", e.getAttribute)
		e.obj.Set("setAttribute", e.setAttribute)
		e.obj.Set("removeAttribute", e.removeAttribute)
		e.obj.Set("addEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
		e.obj.Set("removeEventListener", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

		e.defineAccessor("id",
			func() goja.Value { return e.attrValue("id") },
			func(v goja.Value) { b.env.Doc.SetAttribute(n, "id", v.String()) })
		e.defineAccessor("className",
			func() goja.Value { return e.attrValue("class") },
			func(v goja.Value) { b.env.Doc.SetAttribute(n, "class", v.String()) })
		e.defineAccessor("innerHTML",
			func() goja.Value { return b.vm.ToValue(b.env.Doc.InnerHTML(n)) },
			e.setInnerHTML)
		e.defineAccessor("outerHTML",
			func() goja.Value { return b.vm.ToValue(b.env.Doc.OuterHTML(n)) },
			e.setOuterHTML)
		e.defineAccessor("textContent",
			func() goja.Value { return b.vm.ToValue(b.env.Doc.Text(n)) },
			func(v goja.Value) { b.env.Doc.SetTextContent(n, v.String()) })
		e.defineAccessor("value",
			func() goja.Value { return e.attrValue("value") },
			func(v goja.Value) { b.env.Doc.SetAttribute(n, "value", v.String()) })

		e.obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
			xpath := relativeXPath(dom.CSSToXPath(call.Argument(0).String()))
			found, err := dom.QueryNode(n, xpath)
			if err != nil {
				panic(b.vm.NewGoError(fmt.Errorf("invalid selector: %s", call.Argument(0).String())))
			}
			return b.wrapNode(found)
		})
		e.obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
			xpath := relativeXPath(dom.CSSToXPath(call.Argument(0).String()))
			found, err := dom.QueryNodeAll(n, xpath)
			if err != nil {
				panic(b.vm.NewGoError(fmt.Errorf("invalid selector: %s", call.Argument(0).String())))
			}
			return b.wrapNodeList(found)
		})
	} else if n.Type == html.TextNode || n.Type == html.CommentNode {
		e.defineAccessor("data",
			func() goja.Value { return b.vm.ToValue(n.Data) },
			func(v goja.Value) { n.Data = v.String() })
		e.defineAccessor("nodeValue",
			func() goja.Value { return b.vm.ToValue(n.Data) },
			func(v goja.Value) { n.Data = v.String() })
	}
	return e.obj
}

func (e *element) defineGetter(name string, getter func() goja.Value) {
	e.defineAccessor(name, getter, nil)
}

func (e *element) defineAccessor(name string, getter func() goja.Value, setter func(goja.Value)) {
	var g, s goja.Value = goja.Undefined(), goja.Undefined()
	if getter != nil {
		g = e.b.vm.ToValue(func(goja.FunctionCall) goja.Value { return getter() })
	}
	if setter != nil {
		s = e.b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			setter(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := e.obj.DefineAccessorProperty(name, g, s, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		e.b.logger.Error("failed to define accessor", zap.String("property", name), zap.Error(err))
	}
}

func (e *element) attrValue(name string) goja.Value {
	if v, ok := dom.Attr(e.node, name); ok {
		return e.b.vm.ToValue(v)
	}
	return goja.Null()
}

func (e *element) getAttribute(call goja.FunctionCall) goja.Value {
	return e.attrValue(call.Argument(0).String())
}

func (e *element) setAttribute(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	value := call.Argument(1).String()
	// Event-handler attributes assigned from script are sink material.
	if strings.HasPrefix(strings.ToLower(name), "on") || (name == "src" && strings.HasPrefix(strings.ToLower(value), "javascript:")) {
		e.b.record(TriggerInnerHTML, name+"="+value, e.b.env.Doc.IDFor(e.node), false)
	}
	e.b.env.Doc.SetAttribute(e.node, name, value)
	return goja.Undefined()
}

func (e *element) removeAttribute(call goja.FunctionCall) goja.Value {
	e.b.env.Doc.RemoveAttribute(e.node, call.Argument(0).String())
	return goja.Undefined()
}

func (e *element) setInnerHTML(v goja.Value) {
	markup := v.String()
	// Classify before the parse so the raw payload is captured verbatim.
	if SinkSuspicious(markup) || containsMarker(markup, e.b.s.Sensors().Marker()) {
		e.b.record(TriggerInnerHTML, markup, e.b.env.Doc.IDFor(e.node), false)
	}
	if err := e.b.env.Doc.SetInnerHTML(e.node, markup); err != nil {
		panic(e.b.vm.NewGoError(err))
	}
}

func (e *element) setOuterHTML(v goja.Value) {
	markup := v.String()
	if SinkSuspicious(markup) || containsMarker(markup, e.b.s.Sensors().Marker()) {
		e.b.record(TriggerOuterHTML, markup, e.b.env.Doc.IDFor(e.node), false)
	}
	if err := e.b.env.Doc.SetOuterHTML(e.node, markup); err != nil {
		panic(e.b.vm.NewGoError(err))
	}
}

func (e *element) unwrap(v goja.Value) (*element, error) {
	if v == nil || goja.IsNull(v) || goja.IsUndefined(v) {
		return nil, fmt.Errorf("node is null or undefined")
	}
	obj := v.ToObject(e.b.vm)
	wrapper := obj.Get("__kalamari_node__")
	if wrapper == nil || goja.IsUndefined(wrapper) {
		return nil, fmt.Errorf("value is not a DOM node")
	}
	if el, ok := wrapper.Export().(*element); ok {
		return el, nil
	}
	return nil, fmt.Errorf("value is not a DOM node")
}

func (e *element) appendChild(call goja.FunctionCall) goja.Value {
	child, err := e.unwrap(call.Argument(0))
	if err != nil {
		panic(e.b.vm.NewGoError(fmt.Errorf("appendChild: %w", err)))
	}
	e.b.env.Doc.AppendChild(e.node, child.node)
	return call.Argument(0)
}

func (e *element) removeChild(call goja.FunctionCall) goja.Value {
	child, err := e.unwrap(call.Argument(0))
	if err != nil {
		panic(e.b.vm.NewGoError(fmt.Errorf("removeChild: %w", err)))
	}
	if err := e.b.env.Doc.RemoveChild(e.node, child.node); err != nil {
		panic(e.b.vm.NewGoError(err))
	}
	return call.Argument(0)
}

func (e *element) insertBefore(call goja.FunctionCall) goja.Value {
	child, err := e.unwrap(call.Argument(0))
	if err != nil {
		panic(e.b.vm.NewGoError(fmt.Errorf("insertBefore: %w", err)))
	}
	var ref *html.Node
	if refVal := call.Argument(1); !goja.IsNull(refVal) && !goja.IsUndefined(refVal) {
		refEl, err := e.unwrap(refVal)
		if err != nil {
			panic(e.b.vm.NewGoError(fmt.Errorf("insertBefore: %w", err)))
		}
		ref = refEl.node
	}
	if err := e.b.env.Doc.InsertBefore(e.node, child.node, ref); err != nil {
		panic(e.b.vm.NewGoError(err))
	}
	return call.Argument(0)
}

func relativeXPath(xpath string) string {
	if !strings.HasPrefix(xpath, ".") {
		return "." + xpath
	}
	return xpath
}

func containsMarker(s, marker string) bool {
	return marker != "" && strings.Contains(s, marker)
}

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	default:
		return 0
	}
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	default:
		return ""
	}
}
