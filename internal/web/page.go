package web

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>ragqa</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.summary { color: #666; }
.error { color: #b00; }
.empty { color: #a60; }
.context li.unused { color: #999; }
</style>
</head>
<body>
<h1>Ask the corpus</h1>
{{if .Summary}}<p class="summary">{{.Summary}}</p>{{end}}
<form method="post" action="/">
<input type="text" name="question" size="60" value="{{.Question}}" autofocus>
<button type="submit">Ask</button>
</form>
{{with .Error}}<p class="error">Error: {{.}}</p>{{end}}
{{with .Result}}
<h2>Answer</h2>
<p>{{.Answer}}</p>
{{if .ContextEmpty}}<p class="empty">No context fitted into the prompt; the answer was produced without supporting documents.</p>{{end}}
<h2>Context</h2>
<ol class="context">
{{range .Context}}<li{{if not .Used}} class="unused"{{end}}><code>{{.ID}}</code> ({{printf "%.3f" .Score}})<pre>{{.Text}}</pre></li>
{{end}}</ol>
{{end}}
</body>
</html>
`
