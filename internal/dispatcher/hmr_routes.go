package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/ionifyjs/ionify/internal/hashutil"
	"github.com/ionifyjs/ionify/internal/hmr"
	"github.com/ionifyjs/ionify/internal/transform"
)

// hmrClientScript is the client runtime served at
// /__ionify_hmr_client.js: it opens the event channel; on an "update"
// event it POSTs apply and logs the url of each returned module,
// hard-reloading the page if any module comes back deleted; on an
// "error" event it logs the data. It does not evaluate the returned
// module code.
const hmrClientScript = `(function () {
  var source = new EventSource("/__ionify_hmr");
  source.addEventListener("update", function (ev) {
    var summary = JSON.parse(ev.data);
    fetch("/__ionify_hmr/apply", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ id: summary.id }),
    })
      .then(function (res) { return res.json(); })
      .then(function (payload) {
        payload.modules.forEach(function (mod) {
          if (mod.status === "deleted") {
            window.location.reload();
            return;
          }
          console.log("[ionify] updated", mod.url);
        });
      });
  });
  source.addEventListener("error", function (ev) {
    console.error("[ionify] hmr error", ev.data);
  });
})();
`

func (d *Dispatcher) handleHMRStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sink, err := d.coord.Subscribe()
	if err != nil {
		http.Error(w, "hmr coordinator closed", http.StatusServiceUnavailable)
		return
	}
	defer d.coord.Unsubscribe(sink.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-sink.Events():
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev hmr.WireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (d *Dispatcher) handleHMRClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	fmt.Fprint(w, hmrClientScript)
}

type applyRequest struct {
	ID string `json:"id"`
}

type applyModule struct {
	URL    string     `json:"url"`
	Hash   string     `json:"hash,omitempty"`
	Deps   []string   `json:"deps,omitempty"`
	Reason hmr.Reason `json:"reason"`
	Status string     `json:"status"`
	Code   string     `json:"code,omitempty"`
}

type applyResponse struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	Timestamp int64         `json:"timestamp"`
	Modules   []applyModule `json:"modules"`
}

func (d *Dispatcher) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "malformed apply body", http.StatusBadRequest)
		return
	}

	pu, ok := d.coord.Consume(req.ID)
	if !ok {
		http.Error(w, "unknown update id", http.StatusNotFound)
		return
	}

	modules := make([]applyModule, len(pu.Modules))
	for i, m := range pu.Modules {
		if m.Reason == hmr.ReasonDeleted {
			modules[i] = applyModule{URL: m.URL, Reason: m.Reason, Status: "deleted"}
			continue
		}

		content, err := os.ReadFile(m.AbsPath)
		if err != nil {
			modules[i] = applyModule{URL: m.URL, Reason: hmr.ReasonDeleted, Status: "deleted"}
			continue
		}

		deps, _ := d.graph.Deps(m.AbsPath)

		contentHash := m.ContentHash
		if contentHash == "" {
			contentHash = hashutil.HashBytes(content).Hex()
		}

		artifact, err := d.runTransform(r, &transform.Ctx{Path: m.AbsPath, Code: content, ModuleHash: contentHash})
		if err != nil {
			d.coord.BroadcastError(pu.ID, err.Error())
			modules[i] = applyModule{URL: m.URL, Hash: contentHash, Deps: deps, Reason: m.Reason, Status: "error"}
			continue
		}

		modules[i] = applyModule{
			URL:    m.URL,
			Hash:   contentHash,
			Deps:   deps,
			Reason: m.Reason,
			Status: "ok",
			Code:   string(artifact.Code),
		}
	}

	writeJSON(w, http.StatusOK, applyResponse{
		Type:      "update",
		ID:        pu.ID,
		Timestamp: pu.CreatedAt.UnixMilli(),
		Modules:   modules,
	})
}

type errorReportRequest struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

func (d *Dispatcher) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	var req errorReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "malformed error body", http.StatusBadRequest)
		return
	}

	d.logServerError("client-reported", req.ID, errors.New(req.Message))
	d.coord.BroadcastError(req.ID, req.Message)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
