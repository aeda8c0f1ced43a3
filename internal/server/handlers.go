package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/jhagmar/twenty48/internal/engine"
)

// The only board size the service accepts for uploaded games.
const acceptedBoardSize = 4

// Concurrent writers retry this many times before giving up with a 503.
const maxWriteAttempts = 5

// API exposes the sync protocol as REST handlers over a Repository.
type API struct {
	repo  Repository
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewAPI creates the handler set.
func NewAPI(repo Repository, clock clockwork.Clock, log zerolog.Logger) *API {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &API{repo: repo, clock: clock, log: log}
}

// playerPayload is the wire shape of a player record.
type playerPayload struct {
	DisplayName string    `json:"displayName"`
	LastChange  time.Time `json:"lastChange"`
}

type gameIDsPayload struct {
	IDs []string `json:"ids"`
}

type gameParamsPayload struct {
	Size int    `json:"size"`
	Seed string `json:"seed"`
}

// Routes builds the router. The daemon mounts it under /api.
func (a *API) Routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/players/{playerID}", a.handleGetPlayer).Methods(http.MethodGet)
	api.HandleFunc("/players/{playerID}", a.handlePutPlayer).Methods(http.MethodPut)
	api.HandleFunc("/players/{playerID}/games", a.handleGetGameIDs).Methods(http.MethodGet)
	api.HandleFunc("/players/{playerID}/games/{gameID}", a.handleGetGame).Methods(http.MethodGet)
	api.HandleFunc("/players/{playerID}/games/{gameID}", a.handlePutGame).Methods(http.MethodPut)
	api.HandleFunc("/players/{playerID}/games/{gameID}/leaderboard", a.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/games/{gameID}", a.handleGetGameParams).Methods(http.MethodGet)
	return r
}

func (a *API) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["playerID"]
	p, err := a.repo.GetPlayer(r.Context(), playerID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if p == nil {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}
	a.writeJSON(w, playerPayload{DisplayName: p.DisplayName, LastChange: p.LastChange})
}

// handlePutPlayer upserts a player by last-write-wins on lastChange. A stale
// write is not an error: the response simply carries the stored record, which
// the client is expected to adopt.
func (a *API) handlePutPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["playerID"]
	var in playerPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		p, err := a.repo.GetPlayer(r.Context(), playerID)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if p == nil {
			created, err := a.repo.CreatePlayer(r.Context(), playerID, in.DisplayName, in.LastChange)
			if err != nil {
				a.serverError(w, r, err)
				return
			}
			if !created {
				continue
			}
			a.writeJSON(w, in)
			return
		}

		updated, err := a.repo.UpdatePlayer(r.Context(), playerID, in.DisplayName, in.LastChange)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if updated {
			a.writeJSON(w, in)
			return
		}
		// Stale write: answer with the stored, newer record.
		stored, err := a.repo.GetPlayer(r.Context(), playerID)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if stored == nil {
			continue
		}
		a.writeJSON(w, playerPayload{DisplayName: stored.DisplayName, LastChange: stored.LastChange})
		return
	}
	http.Error(w, "too many concurrent updates", http.StatusServiceUnavailable)
}

func (a *API) handleGetGameIDs(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["playerID"]
	p, err := a.repo.GetPlayer(r.Context(), playerID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if p == nil {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}
	ids, err := a.repo.PlayerGameIDs(r.Context(), playerID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	a.writeJSON(w, gameIDsPayload{IDs: ids})
}

func (a *API) handleGetGame(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	playerID, gameID := vars["playerID"], vars["gameID"]

	pg, err := a.repo.GetPlayerGame(r.Context(), playerID, gameID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if pg == nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	g, err := a.repo.GetGame(r.Context(), gameID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if g == nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	x, err := a.storedExchange(r, playerID, g, pg)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, x)
}

// handlePutGame accepts a game history if and only if it replays to a valid
// game and extends (or equals) whatever history is already stored. Anything
// else is a 400: the client is expected to resolve the conflict by adopting
// the stored record.
func (a *API) handlePutGame(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	playerID, gameID := vars["playerID"], vars["gameID"]

	var in engine.Exchange
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in.ID = gameID
	if in.Size != acceptedBoardSize {
		http.Error(w, "unsupported board size", http.StatusBadRequest)
		return
	}
	newGame, err := engine.FromExchange(in)
	if err != nil {
		http.Error(w, "game record does not replay", http.StatusBadRequest)
		return
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		g, err := a.repo.GetGame(r.Context(), gameID)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if g == nil {
			if _, err := a.repo.CreateGame(r.Context(), gameID, in.Seed, in.Size); err != nil {
				a.serverError(w, r, err)
				return
			}
			continue
		}
		if g.Seed != in.Seed || g.Size != in.Size {
			http.Error(w, "game parameters do not match the stored game", http.StatusBadRequest)
			return
		}

		if err := a.ensurePlayer(r, playerID, in.Player); err != nil {
			a.serverError(w, r, err)
			return
		}

		pg, err := a.repo.GetPlayerGame(r.Context(), playerID, gameID)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		moves, err := json.Marshal(in.Moves)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if pg == nil {
			created, err := a.repo.CreatePlayerGame(r.Context(), playerID, gameID, string(moves), in.Score)
			if err != nil {
				a.serverError(w, r, err)
				return
			}
			if !created {
				continue
			}
			a.writeJSON(w, in)
			return
		}

		stored, err := a.storedExchange(r, playerID, g, pg)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if oldGame, err := engine.FromExchange(stored); err == nil {
			if !oldGame.IsAncestor(newGame) {
				http.Error(w, "game history does not extend the stored game", http.StatusBadRequest)
				return
			}
			if len(stored.Moves) == len(in.Moves) {
				a.writeJSON(w, stored)
				return
			}
		} else {
			// The stored history no longer replays; let the valid upload
			// replace it.
			a.log.Warn().Str("game_id", gameID).Str("player_id", playerID).
				Msg("stored game history does not replay, overwriting")
		}

		updated, err := a.repo.UpdatePlayerGame(r.Context(), playerID, gameID, string(moves), in.Score, pg.Revision)
		if err != nil {
			a.serverError(w, r, err)
			return
		}
		if !updated {
			continue
		}
		a.writeJSON(w, in)
		return
	}
	http.Error(w, "too many concurrent updates", http.StatusServiceUnavailable)
}

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entries, err := a.repo.Leaderboard(r.Context(), vars["playerID"], vars["gameID"])
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, entries)
}

func (a *API) handleGetGameParams(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameID"]
	g, err := a.repo.GetGame(r.Context(), gameID)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	if g == nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	a.writeJSON(w, gameParamsPayload{Size: g.Size, Seed: g.Seed})
}

// ensurePlayer auto-creates the player row on first game upload so game sync
// does not depend on player sync having run first.
func (a *API) ensurePlayer(r *http.Request, playerID, displayName string) error {
	p, err := a.repo.GetPlayer(r.Context(), playerID)
	if err != nil {
		return err
	}
	if p != nil {
		return nil
	}
	_, err = a.repo.CreatePlayer(r.Context(), playerID, displayName, a.clock.Now())
	return err
}

// storedExchange assembles the portable record for a stored player game.
func (a *API) storedExchange(r *http.Request, playerID string, g *GameRow, pg *PlayerGameRow) (engine.Exchange, error) {
	var moves []engine.Direction
	if err := json.Unmarshal([]byte(pg.Moves), &moves); err != nil {
		return engine.Exchange{}, err
	}
	name := ""
	if p, err := a.repo.GetPlayer(r.Context(), playerID); err != nil {
		return engine.Exchange{}, err
	} else if p != nil {
		name = p.DisplayName
	}
	return engine.Exchange{
		Player: name,
		ID:     g.ID,
		Score:  pg.Score,
		Seed:   g.Seed,
		Size:   g.Size,
		Moves:  moves,
	}, nil
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
