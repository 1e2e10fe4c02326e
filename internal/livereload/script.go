package livereload

import (
	"bytes"
	"strconv"
	"strings"
)

// Routes served by the dev proxy. Everything else is proxied or served from
// the destination root.
const (
	PathPrefix    = "/__assetflow/"
	PathSocket    = PathPrefix + "livereload"
	PathScript    = PathPrefix + "livereload.js"
	PathHealth    = PathPrefix + "health"
	PathMetrics   = PathPrefix + "metrics"
	scriptTag     = `<script src="` + PathScript + `" async></script>`
	closingBody   = "</body>"
	reconnectWait = 1000
)

var clientScript = strings.TrimSpace(`
(function () {
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var url = scheme + location.host + "`+PathSocket+`";
  function connect() {
    var ws = new WebSocket(url);
    ws.onmessage = function (ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      if (msg.command === "reload") { location.reload(); }
    };
    ws.onclose = function () { setTimeout(connect, `+strconv.Itoa(reconnectWait)+`); };
  }
  connect();
})();
`) + "\n"

// ScriptTag returns the tag injected into HTML pages.
func ScriptTag() string {
	return scriptTag
}

// InjectScript inserts the client script tag before the last closing body tag
// of an HTML document, or appends it when the document has none. Documents
// that already carry the tag are returned unchanged.
func InjectScript(doc []byte) []byte {
	if bytes.Contains(doc, []byte(scriptTag)) {
		return doc
	}
	idx := lastIndexFold(doc, closingBody)
	out := make([]byte, 0, len(doc)+len(scriptTag))
	if idx < 0 {
		out = append(out, doc...)
		return append(out, scriptTag...)
	}
	out = append(out, doc[:idx]...)
	out = append(out, scriptTag...)
	return append(out, doc[idx:]...)
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

func lastIndexFold(doc []byte, tag string) int {
	for i := len(doc) - len(tag); i >= 0; i-- {
		if bytes.EqualFold(doc[i:i+len(tag)], []byte(tag)) {
			return i
		}
	}
	return -1
}
