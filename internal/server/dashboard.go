package server

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"
)

// dashboard renders a minimal live chart of a building's replay stream.
func dashboard(buildingID int, speed time.Duration) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		id := templ.EscapeString(strconv.Itoa(buildingID))
		_, err := fmt.Fprintf(w, dashboardHTML, id, id, strconv.FormatFloat(speed.Seconds(), 'f', -1, 64))
		return err
	})
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Energy replay · building %[1]s</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1f2933; }
table { border-collapse: collapse; width: 100%%; }
th, td { padding: .3rem .6rem; border-bottom: 1px solid #e4e7eb; text-align: right; }
tr.peak td { background: #fde8e8; }
tr.fallback td:last-child { color: #b7791f; }
</style>
</head>
<body>
<h1>Building %[2]s</h1>
<p>
<button id="start">Start</button>
<button id="stop">Stop</button>
<span id="state">idle</span>
</p>
<table>
<thead><tr><th>Timestamp</th><th>Actual kWh</th><th>Predicted kWh</th><th>Threshold</th><th>Peak p</th><th>Model</th></tr></thead>
<tbody id="ticks"></tbody>
</table>
<script>
const building = %[1]q;
const speed = %[3]q;
const rows = document.getElementById("ticks");
const state = document.getElementById("state");
const fmt = (v) => v === null || v === undefined ? "–" : Number(v).toFixed(2);

document.getElementById("start").onclick = () =>
  fetch("/replay/start?buildingId=" + building + "&speed=" + speed, {method: "POST"}).then(() => state.textContent = "running");
document.getElementById("stop").onclick = () =>
  fetch("/replay/stop?buildingId=" + building, {method: "POST"}).then(() => state.textContent = "stopped");

const source = new EventSource("/stream/consumption?buildingId=" + building);
source.addEventListener("replay_tick", (event) => {
  const t = JSON.parse(event.data);
  const tr = document.createElement("tr");
  if (t.isPeak) tr.classList.add("peak");
  if (t.fallback) tr.classList.add("fallback");
  for (const v of [new Date(t.timestamp).toISOString(), fmt(t.actualKwh), fmt(t.predictedKwh), fmt(t.thresholdValue), fmt(t.peakProbability), t.modelVersion]) {
    const td = document.createElement("td");
    td.textContent = v;
    tr.appendChild(td);
  }
  rows.prepend(tr);
  while (rows.children.length > 200) rows.lastChild.remove();
});
</script>
</body>
</html>
`
