package webmonitor

import "strings"

func renderIndex(cfg Config) string {
	showContour := "false"
	if cfg.ShowContour {
		showContour = "true"
	}
	return strings.NewReplacer(
		"{{CONTOUR_COLOR}}", cfg.ContourColor,
		"{{RESULT_COLOR}}", cfg.ResultColor,
		"{{SHOW_CONTOUR}}", showContour,
	).Replace(indexHTML)
}

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Code Scanner</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111; color: #eee; }
        .app { display: grid; grid-template-columns: 1fr 320px; gap: 16px; padding: 16px; height: calc(100vh - 32px); }
        .header { grid-column: span 2; display: flex; justify-content: space-between; align-items: center; }
        .title { font-size: 20px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #333; font-size: 12px; }
        #viewport { position: relative; overflow: hidden; background: #000; border-radius: 6px; min-height: 240px; }
        #stream { position: absolute; inset: 0; width: 100%; height: 100%; }
        #overlay { position: absolute; inset: 0; }
        .hit { position: absolute; cursor: copy; }
        .panel { background: #1c1c20; border-radius: 6px; padding: 12px; overflow-y: auto; }
        .code { padding: 8px; margin-bottom: 8px; border-radius: 4px; background: #26262c; cursor: copy; word-break: break-all; }
        .code .index { display: inline-block; min-width: 24px; font-weight: 700; color: {{RESULT_COLOR}}; }
        .code .sym { font-size: 11px; color: #999; }
        .code.selected { outline: 2px solid {{CONTOUR_COLOR}}; }
        .toggle button { background: #333; color: #eee; border: 0; padding: 4px 10px; border-radius: 4px; cursor: pointer; }
        .toggle button.active { background: {{CONTOUR_COLOR}}; color: #000; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Code Scanner</div>
            <div class="toggle">
                <button type="button" id="btn-sse" class="active">SSE</button>
                <button type="button" id="btn-webrtc">WebRTC</button>
                <span class="badge" id="status-badge">Connecting...</span>
            </div>
        </div>
        <div id="viewport">
            <img id="stream" src="/stream" alt="Live preview">
            <div id="overlay"></div>
        </div>
        <div class="panel">
            <h3>Detected codes</h3>
            <div id="codes"></div>
        </div>
    </div>
    <script>
        const showContour = {{SHOW_CONTOUR}};
        const viewport = document.getElementById('viewport');
        const overlayLayer = document.getElementById('overlay');
        const codesList = document.getElementById('codes');
        const badge = document.getElementById('status-badge');
        const elements = new Map(); // value -> {hit, row}
        let source = null;
        let peer = null;
        let channel = null;

        function place(node, rect) {
            node.style.left = rect.x + 'px';
            node.style.top = rect.y + 'px';
            node.style.width = rect.w + 'px';
            node.style.height = rect.h + 'px';
        }

        function fill(entry, ins) {
            entry.row.querySelector('.index').textContent = ins.displayIndex;
            entry.row.querySelector('.sym').textContent = ins.symbology;
            if (showContour && ins.geometry) {
                place(entry.hit, ins.geometry.label);
                entry.hit.style.display = 'block';
            } else {
                entry.hit.style.display = 'none';
            }
            // Keep the list in display order
            const rows = [...codesList.children];
            const at = rows[ins.displayIndex - 1];
            if (at !== entry.row) codesList.insertBefore(entry.row, at || null);
        }

        function create(ins) {
            const hit = document.createElement('div');
            hit.className = 'hit';
            hit.title = ins.value;
            const row = document.createElement('div');
            row.className = 'code';
            row.innerHTML = '<span class="index"></span> <span class="value"></span><div class="sym"></div>';
            row.querySelector('.value').textContent = ins.value;
            const select = () => selectCode(ins.value);
            hit.addEventListener('click', select);
            row.addEventListener('click', select);
            overlayLayer.appendChild(hit);
            codesList.appendChild(row);
            const entry = {hit, row};
            elements.set(ins.value, entry);
            fill(entry, ins);
        }

        function apply(ev) {
            if (ev.type === 'selected') {
                const entry = elements.get(ev.value);
                if (entry) {
                    entry.row.classList.add('selected');
                    setTimeout(() => entry.row.classList.remove('selected'), 800);
                }
                return;
            }
            for (const ins of ev.instructions || []) {
                const entry = elements.get(ins.value);
                if (ins.op === 'remove') {
                    if (entry) {
                        entry.hit.remove();
                        entry.row.remove();
                        elements.delete(ins.value);
                    }
                } else if (ins.op === 'create' && !entry) {
                    create(ins);
                } else if (entry) {
                    fill(entry, ins);
                }
            }
        }

        function clearAll() {
            for (const entry of elements.values()) {
                entry.hit.remove();
                entry.row.remove();
            }
            elements.clear();
        }

        async function selectCode(value) {
            try {
                await navigator.clipboard.writeText(value);
            } catch (e) {
                console.warn('[Select] Clipboard unavailable', e);
            }
            if (channel && channel.readyState === 'open') {
                channel.send(JSON.stringify({type: 'select', value}));
                return;
            }
            await fetch('/api/codes/' + encodeURIComponent(value) + '/select', {method: 'POST'});
        }

        function startSSE() {
            stopWebRTC();
            clearAll();
            source = new EventSource('/api/codes/stream');
            source.onopen = () => { badge.textContent = 'SSE connected'; };
            source.onerror = () => { badge.textContent = 'SSE reconnecting...'; };
            source.onmessage = (msg) => apply(JSON.parse(msg.data));
        }

        function stopSSE() {
            if (source) { source.close(); source = null; }
        }

        async function startWebRTC() {
            stopSSE();
            clearAll();
            peer = new RTCPeerConnection({iceServers: [{urls: 'stun:stun.l.google.com:19302'}]});
            channel = peer.createDataChannel('overlay');
            channel.onopen = () => { badge.textContent = 'WebRTC connected'; };
            channel.onclose = () => { badge.textContent = 'WebRTC closed'; };
            channel.onmessage = (msg) => apply(JSON.parse(msg.data));
            await peer.setLocalDescription(await peer.createOffer());
            await new Promise((resolve) => {
                if (peer.iceGatheringState === 'complete') return resolve();
                peer.addEventListener('icegatheringstatechange', () => {
                    if (peer.iceGatheringState === 'complete') resolve();
                });
            });
            const resp = await fetch('/api/webrtc/offer', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(peer.localDescription),
            });
            if (!resp.ok) {
                badge.textContent = 'WebRTC unavailable';
                startSSE();
                return;
            }
            await peer.setRemoteDescription(await resp.json());
        }

        function stopWebRTC() {
            if (channel) { channel.close(); channel = null; }
            if (peer) { peer.close(); peer = null; }
        }

        function reportViewport() {
            const box = viewport.getBoundingClientRect();
            fetch('/api/viewport', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({width: Math.round(box.width), height: Math.round(box.height)}),
            });
        }

        const btnSSE = document.getElementById('btn-sse');
        const btnWebRTC = document.getElementById('btn-webrtc');
        btnSSE.addEventListener('click', () => {
            btnSSE.classList.add('active');
            btnWebRTC.classList.remove('active');
            startSSE();
        });
        btnWebRTC.addEventListener('click', () => {
            btnWebRTC.classList.add('active');
            btnSSE.classList.remove('active');
            startWebRTC();
        });

        new ResizeObserver(reportViewport).observe(viewport);
        window.addEventListener('load', startSSE);
    </script>
</body>
</html>
`
