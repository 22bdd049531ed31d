package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"botwatch/config"

	"go.uber.org/zap"
)

// SettingsHandler handles settings-related HTTP requests.
type SettingsHandler struct {
	logger   *zap.Logger
	settings *config.SettingsManager
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(logger *zap.Logger, settings *config.SettingsManager) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{
		logger:   logger,
		settings: settings,
	}
}

// RegisterRoutes registers the settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /settings", h.handleSettingsPage)
	mux.HandleFunc("GET /api/settings", h.getSettings)
	mux.HandleFunc("POST /api/settings", h.updateSettings)
	mux.HandleFunc("POST /api/settings/reset", h.handleSettingsReset)
	mux.HandleFunc("GET /api/settings/info", h.handleSettingsInfo)
}

// handleSettingsPage serves the settings page HTML.
func (h *SettingsHandler) handleSettingsPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(settingsPageHTML))
}

// getSettings returns the current settings as JSON.
func (h *SettingsHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetCurrentConfig())
}

// updateSettings decodes the body over the current config, validates it and
// applies it.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	newConfig := h.settings.GetCurrentConfig().Clone()
	if err := json.NewDecoder(r.Body).Decode(newConfig); err != nil {
		h.logger.Warn("failed to decode settings", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	validation := newConfig.Validate()
	if !validation.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"errors":  validation.Errors,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.settings.UpdateAndSave(ctx, newConfig); err != nil {
		h.logger.Error("failed to update settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update settings: "+err.Error())
		return
	}

	h.logger.Info("settings updated via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

// handleSettingsReset resets settings to defaults, keeping env-only fields.
func (h *SettingsHandler) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	defaults := config.Defaults()

	current := h.settings.GetCurrentConfig()
	defaults.Discord.BotToken = current.Discord.BotToken
	defaults.Telegram.BotToken = current.Telegram.BotToken
	defaults.Log = current.Log
	defaults.Database = current.Database

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.settings.UpdateAndSave(ctx, defaults); err != nil {
		h.logger.Error("failed to reset settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to reset settings: "+err.Error())
		return
	}

	h.logger.Info("settings reset to defaults via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

// handleSettingsInfo returns metadata about settings state.
func (h *SettingsHandler) handleSettingsInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetSettingsInfo())
}

// settingsPageHTML edits the settings document as JSON. Durations are
// nanoseconds.
const settingsPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Botwatch Settings</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --border-color: #30363d;
            --text-primary: #e6edf3;
            --text-secondary: #8b949e;
            --accent: #58a6ff;
            --success: #3fb950;
            --error: #f85149;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
            padding: 20px;
            max-width: 1000px;
            margin: 0 auto;
        }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 20px; }
        .nav-link { color: var(--accent); text-decoration: none; padding: 8px 16px; border: 1px solid var(--border-color); border-radius: 6px; }
        .status-bar { background: var(--bg-secondary); border: 1px solid var(--border-color); border-radius: 6px; padding: 12px 16px; margin-bottom: 20px; color: var(--text-secondary); }
        textarea { width: 100%; height: 480px; background: var(--bg-secondary); color: var(--text-primary); border: 1px solid var(--border-color); border-radius: 6px; padding: 12px; font-family: ui-monospace, Menlo, monospace; font-size: 13px; }
        .actions { display: flex; gap: 10px; margin-top: 12px; }
        button { background: var(--bg-secondary); color: var(--text-primary); border: 1px solid var(--border-color); border-radius: 6px; padding: 8px 16px; cursor: pointer; }
        button.primary { background: #238636; border-color: #2ea043; }
        #message { margin-top: 12px; white-space: pre-wrap; }
        .ok { color: var(--success); }
        .err { color: var(--error); }
    </style>
</head>
<body>
    <div class="header">
        <h1>Settings</h1>
        <a class="nav-link" href="/">Dashboard</a>
    </div>
    <div class="status-bar" id="info">Loading...</div>
    <textarea id="editor" spellcheck="false"></textarea>
    <div class="actions">
        <button class="primary" onclick="save()">Save</button>
        <button onclick="load()">Reload</button>
        <button onclick="reset()">Reset to defaults</button>
    </div>
    <div id="message"></div>
    <script>
        const editor = document.getElementById('editor');
        const message = document.getElementById('message');

        function show(text, ok) {
            message.textContent = text;
            message.className = ok ? 'ok' : 'err';
        }

        async function loadInfo() {
            const info = await (await fetch('/api/settings/info')).json();
            document.getElementById('info').textContent =
                'Source: ' + info.source + ' | version ' + info.version + ' | revision ' + info.revision +
                (info.is_valid ? '' : ' | invalid: ' + (info.errors || []).join('; '));
        }

        async function load() {
            const cfg = await (await fetch('/api/settings')).json();
            editor.value = JSON.stringify(cfg, null, 2);
            loadInfo();
        }

        async function save() {
            let body;
            try { body = JSON.parse(editor.value); } catch (e) { show('Invalid JSON: ' + e.message, false); return; }
            const resp = await fetch('/api/settings', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body),
            });
            const data = await resp.json();
            if (resp.ok) {
                show('Saved at ' + data.applied_at, true);
                load();
            } else if (data.errors) {
                show(data.errors.map(e => e.field + ': ' + e.message).join('\n'), false);
            } else {
                show(data.message || 'Save failed', false);
            }
        }

        async function reset() {
            if (!confirm('Reset all settings to defaults?')) return;
            const resp = await fetch('/api/settings/reset', {method: 'POST'});
            show(resp.ok ? 'Reset to defaults' : 'Reset failed', resp.ok);
            load();
        }

        load();
    </script>
</body>
</html>
`
