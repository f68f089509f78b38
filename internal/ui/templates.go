package ui

import "html/template"

const baseTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Crash Insight AI</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; }
nav a { margin-right: 1rem; }
.cards { display: flex; gap: 1.5rem; flex-wrap: wrap; }
.card { background: #f6f6fa; border-radius: 1rem; padding: 1.5rem; box-shadow: 0 2px 8px rgba(0,0,0,0.06); max-width: 420px; flex: 1; }
.field { display: flex; align-items: center; margin-bottom: 0.85rem; }
.field .icon { font-size: 1.5rem; margin-right: 0.7rem; }
.field .label { font-weight: 600; }
.field .value { margin-left: 0.5rem; }
.actions form { display: inline-block; margin-right: 1rem; }
.msg { margin: 0.5rem 0; }
</style>
</head>
<body>
<nav><a href="/">Home</a><a href="/app">Predict &amp; Summarize</a><a href="/chat">Chat</a></nav>
<h1>🚧 Crash Insight AI</h1>
{{template "content" .}}
</body>
</html>`

const homeTemplate = `{{define "content"}}
<p><strong>Your smart assistant for understanding and summarizing road accidents.</strong></p>
<p>This tool leverages machine learning and a fine-tuned language model to:</p>
<ul>
<li>🧠 <strong>Predict crash severity</strong> from real-world accident data</li>
<li>✍️ <strong>Generate natural-language summaries</strong> from structured crash reports</li>
<li>💬 <strong>Chat with the AI</strong> to get insights, precautions, or crash scenario analysis</li>
</ul>
<p>➡️ Go to the <a href="/app">Predict &amp; Summarize</a> tab to get started.</p>
{{end}}`

const appTemplate = `{{define "content"}}
<h2>🔍 Crash Instance</h2>
{{if .HasData}}
<h3>Row {{.RowNumber}} of {{.Total}}</h3>
<div class="cards">
{{range .Columns}}<div class="card">
{{range .}}<div class="field"><span class="icon">{{.Icon}}</span><span class="label">{{.Label}}:</span><span class="value">{{.Value}}</span></div>
{{end}}</div>
{{end}}</div>
<div class="actions">
<form method="post" action="/app/infer"><button type="submit">Run Inference</button></form>
<form method="post" action="/app/next"><button type="submit">Next Row</button></form>
</div>
{{else}}
<p>No crash records loaded.</p>
{{end}}
{{if .Summary}}
<hr>
<h3>Crash Summary from Model</h3>
<div class="summary">{{.Summary}}</div>
{{end}}
{{end}}`

const chatTemplate = `{{define "content"}}
<h2>💬 Chat with Crash Insight AI</h2>
<form method="post" action="/chat" id="chat-form">
<label>You: <input type="text" name="message" id="chat-input" placeholder="Ask anything about crash scenarios or safety tips..." autocomplete="off"></label>
<button type="submit">Send</button>
</form>
<div id="history">
{{range .History}}<div class="msg"><strong>{{if eq .Sender "You"}}🧍{{else}}🤖{{end}} {{.Sender}}:</strong> {{.HTML}}</div>
{{end}}</div>
<script>
(function() {
  if (!window.WebSocket) return;
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/chat/ws");
  var form = document.getElementById("chat-form");
  var input = document.getElementById("chat-input");
  var history = document.getElementById("history");
  function add(sender, text) {
    var div = document.createElement("div");
    div.className = "msg";
    var who = document.createElement("strong");
    who.textContent = (sender === "You" ? "🧍 " : "🤖 ") + sender + ": ";
    div.appendChild(who);
    div.appendChild(document.createTextNode(text));
    history.appendChild(div);
  }
  ws.onmessage = function(ev) {
    var m = JSON.parse(ev.data);
    add(m.sender, m.message);
  };
  ws.onopen = function() {
    form.addEventListener("submit", function(ev) {
      ev.preventDefault();
      var text = input.value;
      input.value = "";
      if (!text.trim()) return;
      add("You", text);
      ws.send(JSON.stringify({message: text}));
    });
  };
})();
</script>
{{end}}`

func parsePages() map[string]*template.Template {
	pages := map[string]string{
		"home": homeTemplate,
		"app":  appTemplate,
		"chat": chatTemplate,
	}
	out := make(map[string]*template.Template, len(pages))
	for name, body := range pages {
		t := template.Must(template.New("base").Parse(baseTemplate))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}
