package main

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Request bodies for the game actions.

type joinRequest struct {
	PlayerName string `json:"player_name"`
}

type selectTopicRequest struct {
	PlayerName  string `json:"player_name"`
	TopicIndex  *int   `json:"topic_index"`
	CustomTopic string `json:"custom_topic"`
}

type submitPlanRequest struct {
	PlayerName string `json:"player_name"`
	Plan       string `json:"plan"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGameError(w http.ResponseWriter, err error) {
	writeJSON(w, errKind(err).httpStatus(), map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func serveCreateGame(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s := reg.create()
		logf(cfg, "GAMES: Created game %s", s.id)
		writeJSON(w, http.StatusOK, map[string]string{"game_id": s.id})
	}
}

func serveJoin(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req joinRequest
		if !decodeBody(w, r, &req) {
			return
		}

		players, err := reg.getOrCreate(ps.ByName("gameid")).Join(req.PlayerName)
		if err != nil {
			writeGameError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"players": players,
		})
	}
}

func serveStart(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		started, err := reg.getOrCreate(ps.ByName("gameid")).Start(r.Context())
		if err != nil {
			writeGameError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"topic_chooser": started.TopicChooser,
			"topics":        started.Topics,
		})
	}
}

func serveSelectTopic(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req selectTopicRequest
		if !decodeBody(w, r, &req) {
			return
		}

		topic, err := reg.getOrCreate(ps.ByName("gameid")).SelectTopic(req.PlayerName, req.CustomTopic, req.TopicIndex)
		if err != nil {
			writeGameError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"topic":   topic,
		})
	}
}

func serveSubmitPlan(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var req submitPlanRequest
		if !decodeBody(w, r, &req) {
			return
		}

		allReady, err := reg.getOrCreate(ps.ByName("gameid")).SubmitPlan(req.PlayerName, req.Plan)
		if err != nil {
			writeGameError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"all_ready": allReady,
		})
	}
}

func serveEvaluate(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		results, err := reg.getOrCreate(ps.ByName("gameid")).Evaluate(r.Context())
		if err != nil {
			writeGameError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"results": results,
		})
	}
}

func serveNextRound(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		over, next, err := reg.getOrCreate(ps.ByName("gameid")).NextRound(r.Context())
		if err != nil {
			writeGameError(w, err)
			return
		}

		if over != nil {
			writeJSON(w, http.StatusOK, over)
			return
		}
		writeJSON(w, http.StatusOK, next)
	}
}

func serveGameState(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, ok := reg.lookup(ps.ByName("gameid"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "game not found"})
			return
		}

		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// WebSocket handler that subscribes the client to the game's event feed.
func serveWSForRegistry(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		s := reg.getOrCreate(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: Upgrade error for %s: %v", gameID, err)
			return
		}

		sub := s.hub.subscribe(conn)
		logf(cfg, "GAMES: Subscriber %s connected to %s", sub.id, gameID)

		go sub.writePump()
		sub.readPump(s.hub)
	}
}

// qrHandler renders the session URL as a PNG so phones can scan their
// way into the game.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("gameid") == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	switch {
	case r.Header.Get("X-Forwarded-Proto") != "":
		scheme = r.Header.Get("X-Forwarded-Proto")
	case r.TLS != nil:
		scheme = "https"
	}

	// The code encodes the game page itself, one segment up from /qr.
	gameURL := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

	png, err := qrcode.Encode(gameURL, qrcode.Medium, 320)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed survival/index.html
var indexHTML []byte

//go:embed survival/app.css
var survivalCSS []byte

//go:embed survival/app.js
var survivalJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(survivalCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(survivalJS)
	}
}

// redirectNewGame handles GET /path by creating a new game under a random
// ID and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s := reg.create()
		logf(cfg, "GAMES: Created game %s/%s", path, s.id)
		http.Redirect(w, r, path+"/"+s.id, http.StatusTemporaryRedirect)
	}
}

// registerSurvivalRoutes wires an existing registry's routes so that:
//   - $path                          → redirects to new random game (8-char ID)
//   - $path/:gameid                  → HTML client
//   - $path/:gameid/ws               → WebSocket event feed for that game
//   - $path/:gameid/qr               → PNG QR code for that game URL
//   - /api/create_game               → create game, returns its ID
//   - /api/game/:gameid/<action>     → game actions
//   - /api/game/:gameid/state        → read-only state snapshot
func registerSurvivalRoutes(cfg *Config, reg *Registry, path string, mux *httprouter.Router) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, cfg.prefix+path, reg))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForRegistry(cfg, reg))
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	mux.GET(cfg.prefix+"/assets/survival/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/survival/app.js", getJsHandler(cfg))

	mux.POST(cfg.prefix+"/api/create_game", serveCreateGame(cfg, reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/join", serveJoin(reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/start", serveStart(reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/select_topic", serveSelectTopic(reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/submit_plan", serveSubmitPlan(reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/evaluate", serveEvaluate(reg))
	mux.POST(cfg.prefix+"/api/game/:gameid/next_round", serveNextRound(reg))
	mux.GET(cfg.prefix+"/api/game/:gameid/state", serveGameState(reg))
}

func registerSurvivalGame(cfg *Config, path string, mux *httprouter.Router) {
	registerSurvivalRoutes(cfg, newRegistry(cfg, newOllamaOracle(cfg)), path, mux)
}
