package server

import (
	"net/http"
)

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; background-color: #f9f9f9; }
        #online { color: #155724; margin: 10px 0; }
        input { padding: 5px; margin-right: 10px; }
    </style>
</head>
<body>
    <h1>Chat WebSocket Test</h1>
    <p>Log in through POST /login first; the token cookie identifies this page.</p>
    <div id="online">Online: -</div>
    <div>
        <input id="recipient" placeholder="recipient user id" size="38">
        <input id="text" placeholder="message" size="30">
        <button onclick="send()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        const log = document.getElementById('log');
        function line(text) {
            const el = document.createElement('div');
            el.textContent = text;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        ws.onopen = () => line('connected');
        ws.onclose = () => line('connection closed');
        ws.onmessage = (ev) => {
            const data = JSON.parse(ev.data);
            if (data.online) {
                document.getElementById('online').textContent =
                    'Online: ' + data.online.map(p => p.username + ' (' + p.userId + ')').join(', ');
            } else if (data.error) {
                line('not delivered: ' + data.error.code);
            } else {
                line(data.sender + ': ' + (data.text || '') + (data.file ? ' [' + data.file + ']' : ''));
            }
        };
        function send() {
            const recipient = document.getElementById('recipient').value.trim();
            const input = document.getElementById('text');
            if (!recipient || !input.value) return;
            ws.send(JSON.stringify({ message: { recipient: recipient, text: input.value } }));
            line('me -> ' + recipient + ': ' + input.value);
            input.value = '';
        }
    </script>
</body>
</html>`

// TestPageHandler serves an HTML page for exercising the websocket by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(testPage))
}
