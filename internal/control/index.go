package control

import "net/http"

// Index handles GET /, the single-page UI.
func (c *Controller) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>twmd</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 0; background: #0f1419; color: #e7e9ea; }
  .wrap { max-width: 860px; margin: 0 auto; padding: 24px; }
  h1 { font-size: 20px; margin: 0 0 16px; }
  fieldset { border: 1px solid #2f3336; border-radius: 8px; margin-bottom: 16px; padding: 12px; }
  legend { padding: 0 6px; color: #8b98a5; font-size: 13px; }
  label { display: block; font-size: 13px; color: #8b98a5; margin-top: 8px; }
  input, select { width: 100%; box-sizing: border-box; background: #16202a; color: #e7e9ea;
    border: 1px solid #2f3336; border-radius: 4px; padding: 6px 8px; margin-top: 2px; }
  .row { display: flex; gap: 12px; }
  .row > div { flex: 1; }
  button { background: #1d9bf0; color: #fff; border: 0; border-radius: 18px;
    padding: 8px 20px; font-size: 14px; cursor: pointer; margin-right: 8px; }
  button.secondary { background: #536471; }
  button:disabled { opacity: .5; cursor: default; }
  #log { background: #000; border: 1px solid #2f3336; border-radius: 8px; height: 320px;
    overflow-y: auto; font-family: ui-monospace, monospace; font-size: 12px; padding: 8px;
    white-space: pre-wrap; }
  .err { color: #f4212e; }
  .warn { color: #ffd400; }
  #state { font-size: 13px; color: #8b98a5; margin: 8px 0; }
</style>
</head>
<body>
<div class="wrap">
  <h1>twmd &middot; media downloader</h1>

  <fieldset>
    <legend>Session</legend>
    <label>Cookies (auth_token and ct0, browser export or header format)
      <input id="cookies" placeholder="auth_token=...; ct0=..."></label>
    <div style="margin-top:8px">
      <button onclick="login()">Login</button>
      <button class="secondary" onclick="cmd('whoami')">Who am I</button>
      <button class="secondary" onclick="cmd('logout')">Logout</button>
    </div>
  </fieldset>

  <fieldset>
    <legend>Job</legend>
    <label>Users (comma separated)<input id="users" placeholder="alice,bob"></label>
    <label>Output directory<input id="out" placeholder="/downloads"></label>
    <div class="row">
      <div><label>Kinds<select id="kinds">
        <option value="">all</option><option>image</option><option>video</option>
        <option>gif</option><option>image,video</option>
      </select></label></div>
      <div><label>Engine<select id="engine">
        <option value="graphql">graphql</option><option value="playwright">playwright</option>
      </select></label></div>
      <div><label>Max tweets<input id="max" type="number" value="200"></label></div>
    </div>
  </fieldset>

  <div id="state">idle</div>
  <button id="start" onclick="start()">Start</button>
  <button id="stop" class="secondary" onclick="stop()" disabled>Stop</button>

  <h1 style="margin-top:24px">Log</h1>
  <div id="log"></div>
</div>

<script>
const log = document.getElementById('log');
const state = document.getElementById('state');
const startBtn = document.getElementById('start');
const stopBtn = document.getElementById('stop');

function append(line, cls) {
  const div = document.createElement('div');
  if (cls) div.className = cls;
  div.textContent = line;
  log.appendChild(div);
  log.scrollTop = log.scrollHeight;
}

function setRunning(running) {
  startBtn.disabled = running;
  stopBtn.disabled = !running;
  state.textContent = running ? 'running' : 'idle';
}

const es = new EventSource('/events');
es.addEventListener('log', (e) => {
  const m = JSON.parse(e.data);
  const t = m.parsed && m.parsed.type;
  append(m.line, t === 'error' ? 'err' : (t === 'warning' ? 'warn' : ''));
});
es.addEventListener('job', (e) => {
  const m = JSON.parse(e.data);
  if (m.type === 'started') setRunning(true);
  if (m.type === 'finished' || m.type === 'error') {
    setRunning(false);
    append(m.type === 'error' ? ('job error: ' + (m.message || '')) : 'job finished',
      m.ok === false || m.type === 'error' ? 'err' : '');
  }
});

async function start() {
  const body = {
    users: document.getElementById('users').value.split(',').map(s => s.trim()).filter(Boolean),
    outputDir: document.getElementById('out').value,
    kinds: document.getElementById('kinds').value,
    engine: document.getElementById('engine').value,
    maxTweets: parseInt(document.getElementById('max').value, 10) || 0,
  };
  const resp = await fetch('/api/download', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify(body),
  });
  if (!resp.ok) {
    const err = await resp.json().catch(() => ({}));
    append('start failed: ' + (err.error || resp.status), 'err');
  }
}

async function stop() {
  await fetch('/api/stop', { method: 'POST' });
}

async function login() {
  const field = document.getElementById('cookies');
  const resp = await fetch('/api/login', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({ cookies: field.value }),
  });
  const res = await resp.json();
  append('$ login');
  if (!resp.ok) {
    append('login failed: ' + (res.error || resp.status), 'err');
    return;
  }
  if (res.stdout) append(res.stdout.trimEnd());
  if (res.stderr) append(res.stderr.trimEnd(), res.ok ? '' : 'err');
  if (res.ok) field.value = '';
}

async function cmd(name) {
  const resp = await fetch('/api/' + name, { method: 'POST' });
  const res = await resp.json();
  append('$ ' + name);
  if (res.stdout) append(res.stdout.trimEnd());
  if (res.stderr) append(res.stderr.trimEnd(), 'err');
}

fetch('/api/status').then(r => r.json()).then(s => setRunning(s.running));
</script>
</body>
</html>
`
