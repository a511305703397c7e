package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/book-kiosk/internal/logic"
	"github.com/sweeney/book-kiosk/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ints": func(v []int) string {
		if len(v) == 0 {
			return "none"
		}
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = fmt.Sprint(n)
		}
		return strings.Join(parts, ", ")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Book Kiosk</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; }
.bad { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Book Kiosk</h1>

<h2>Page</h2>
<table>
<tr><th>Showing</th><td id="page">{{.Page}}</td></tr>
<tr><th>Previous</th><td>{{.PreviousPage}}</td></tr>
{{if not .LastChange.IsZero}}<tr><th>Changed</th><td>{{.LastChange.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
<tr><th>Floating</th><td>{{ints .Floating}}</td></tr>
<tr><th>Suspected faulty</th><td class="{{if .SuspectedFaulty}}bad{{else}}ok{{end}}">{{ints .SuspectedFaulty}}</td></tr>
</table>

<h2>Errors</h2>
<table>
<tr><th>Serial link</th><td class="{{if or .SerialFail .SerialWaiting}}bad{{else}}ok{{end}}">{{if .SerialFail}}failed{{else if .SerialWaiting}}waiting for device{{else}}ok{{end}}</td></tr>
<tr><th>Video load</th><td class="{{if .Unavailable}}bad{{else}}ok{{end}}">{{if .Unavailable}}{{range $i, $p := .Unavailable}}{{if $i}}, {{end}}{{$p}}{{end}}{{else}}ok{{end}}</td></tr>
<tr><th>Faults reported</th><td>{{.FaultsReported}}</td></tr>
{{if .LastFault}}<tr><th>Last fault</th><td>{{.LastFault.Message}}</td></tr>{{end}}
{{range .ActiveFaults}}<tr><th>Active</th><td class="bad">{{.}}</td></tr>{{end}}
</table>

<h2>Frame caches</h2>
<table>
{{range $p := .Pages}}{{$c := index $.Caches $p}}<tr><th>{{$p}}</th><td>{{if $c.Error}}<span class="bad">{{$c.Error}}</span>{{else if $c.Frames}}{{$c.Frames}} frames @ {{printf "%.2f" $c.FPS}} fps{{if $c.Rebuilt}} (rebuilt){{end}}{{else}}not loaded{{end}}</td></tr>
{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Target FPS</th><td>{{.Config.TargetFPS}}</td></tr>
<tr><th>Max video FPS</th><td>{{.Config.MaxVideoFPS}}</td></tr>
<tr><th>Screen</th><td>{{.Config.Width}}x{{.Config.Height}}</td></tr>
<tr><th>Input</th><td>{{.Config.InputMode}}</td></tr>
<tr><th>Cache dir</th><td>{{.Config.CacheDir}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/healthz">health</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

type indexData struct {
	status.Snapshot
	Uptime time.Duration
	Pages  []logic.PageID
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	indexTmpl.Execute(w, indexData{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Pages:    logic.AllPages,
	})
}
