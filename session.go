// Perilbox Survival Game
//
// Players join a shared session and face a deadly scenario each round. One
// randomly chosen player picks the scenario from three generated candidates
// (or writes their own), everyone submits a freeform survival plan, and an
// external model judges who lives and who dies. After a fixed number of
// rounds the player with the most survivals wins.
//
// Features:
// - REST actions per game ID under /api/game/:gameid, websocket fan-out at /survival/:gameid/ws
// - Phases: lobby → topic_selection → planning → results → {topic_selection | game_over}
// - Per-session mutex so concurrent requests to one game serialize
// - Action locks (start/evaluate/next_round) reject duplicate in-flight triggers
// - Oracle failures degrade to fallback topics/verdicts, never block the game
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"strings"
	"sync"
	"time"
)

// Phase is a session's position in the game lifecycle.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseTopicSelection Phase = "topic_selection"
	PhasePlanning       Phase = "planning"
	PhaseResults        Phase = "results"
	PhaseGameOver       Phase = "game_over"
)

// Action names a multi-step operation guarded by an in-flight lock, so a
// second trigger fails cleanly instead of queuing behind the first.
type Action string

const (
	ActionStart     Action = "start"
	ActionEvaluate  Action = "evaluate"
	ActionNextRound Action = "next_round"
)

// PlayerState holds the data we store server-side per player.
type PlayerState struct {
	Name          string
	SurvivalCount int
	DeathCount    int
	CurrentPlan   string
	Ready         bool
}

// Verdict records one player's judged outcome for a round.
type Verdict struct {
	Player   string `json:"player"`
	Survived bool   `json:"survived"`
	Reason   string `json:"reason"`
	Plan     string `json:"plan"`
}

// RoundRecord is one completed round in a session's history.
type RoundRecord struct {
	Round   int       `json:"round"`
	Topic   string    `json:"topic"`
	Results []Verdict `json:"results"`
}

// PlayerSummary is the per-player view shared in broadcasts and state
// snapshots. Plans are deliberately excluded so nobody sees another
// player's plan before evaluation.
type PlayerSummary struct {
	SurvivalCount int  `json:"survival_count"`
	DeathCount    int  `json:"death_count"`
	Ready         bool `json:"ready"`
}

// FinalScore is one player's totals in the game-over payload.
type FinalScore struct {
	Survivals int `json:"survivals"`
	Deaths    int `json:"deaths"`
}

// StateSnapshot is a read-only view of a session.
type StateSnapshot struct {
	Phase        Phase                    `json:"phase"`
	CurrentRound int                      `json:"current_round"`
	MaxRounds    int                      `json:"max_rounds"`
	Players      map[string]PlayerSummary `json:"players"`
	TopicChooser string                   `json:"topic_chooser,omitempty"`
	Topics       []string                 `json:"topics"`
	CurrentTopic string                   `json:"current_topic,omitempty"`
}

// Session is a single game instance. All mutating operations serialize on
// mu, so two concurrent requests to the same game cannot interleave; the
// action locks on top of that give a clean rejection while a slow
// operation (usually an oracle round-trip) is still in flight.
type Session struct {
	id  string
	cfg *Config

	mu sync.Mutex

	phase           Phase
	currentRound    int
	maxRounds       int
	players         []*PlayerState // join order, used for verdicts and tie-breaks
	byName          map[string]*PlayerState
	topicChooser    string
	candidateTopics []string
	currentTopic    string
	roundHistory    []RoundRecord
	locks           map[Action]bool

	createdAt  time.Time
	lastActive time.Time

	oracle Oracle
	hub    *Hub
	pick   func(n int) int
}

func newSession(cfg *Config, id string, oracle Oracle) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		cfg:        cfg,
		phase:      PhaseLobby,
		maxRounds:  cfg.maxRounds,
		byName:     make(map[string]*PlayerState),
		locks:      make(map[Action]bool),
		createdAt:  now,
		lastActive: now,
		oracle:     oracle,
		hub:        newHub(id),
		pick:       cryptoPick,
	}
}

// cryptoPick returns a uniform index in [0, n) using crypto/rand.
func cryptoPick(n int) int {
	if n <= 1 {
		return 0
	}
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n))
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

func (s *Session) playerNamesLocked() []string {
	names := make([]string, 0, len(s.players))
	for _, p := range s.players {
		names = append(names, p.Name)
	}
	return names
}

func (s *Session) summariesLocked() map[string]PlayerSummary {
	out := make(map[string]PlayerSummary, len(s.players))
	for _, p := range s.players {
		out[p.Name] = PlayerSummary{
			SurvivalCount: p.SurvivalCount,
			DeathCount:    p.DeathCount,
			Ready:         p.Ready,
		}
	}
	return out
}

// topicsLocked copies the candidate list, since broadcast payloads are
// serialized after the session lock is released.
func (s *Session) topicsLocked() []string {
	out := make([]string, len(s.candidateTopics))
	copy(out, s.candidateTopics)
	return out
}

func (s *Session) allReadyLocked() bool {
	for _, p := range s.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (s *Session) resetPlansLocked() {
	for _, p := range s.players {
		p.CurrentPlan = ""
		p.Ready = false
	}
}

func (s *Session) chooseTopicChooserLocked() {
	s.topicChooser = s.players[s.pick(len(s.players))].Name
}

// Join adds a named player to the session. Re-joining with an existing
// name is a no-op success in any phase, so reconnecting clients can
// re-announce themselves; new names are only accepted in the lobby.
func (s *Session) Join(name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, gameError(KindInvalidInput, "player name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if _, ok := s.byName[name]; !ok {
		if s.phase != PhaseLobby {
			return nil, gameError(KindIllegalState, "game already in progress")
		}

		p := &PlayerState{Name: name}
		s.players = append(s.players, p)
		s.byName[name] = p
		logf(s.cfg, "GAMES: Player %q joined %s", name, s.id)
	}

	names := s.playerNamesLocked()

	s.hub.broadcast(playerJoinedEvent{
		Type:       "player_joined",
		PlayerName: name,
		Players:    names,
	})

	return names, nil
}

// Start moves the session out of the lobby into the first round: picks a
// topic chooser at random, asks the oracle for candidate topics, and
// announces the round to everyone.
func (s *Session) Start(ctx context.Context) (*gameStartedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.phase != PhaseLobby || s.locks[ActionStart] {
		return nil, gameError(KindIllegalState, "game already started or start locked")
	}
	if len(s.players) < 2 {
		return nil, gameError(KindInsufficientPlayers, "need at least 2 players")
	}

	s.locks[ActionStart] = true
	s.hub.broadcast(actionLockEvent{Type: "action_locked", Action: ActionStart})

	s.currentRound = 1
	s.phase = PhaseTopicSelection
	s.chooseTopicChooserLocked()
	s.candidateTopics = s.oracle.GenerateTopics(ctx)

	logf(s.cfg, "GAMES: Started %s, round 1 of %d, %q chooses the topic", s.id, s.maxRounds, s.topicChooser)

	started := &gameStartedEvent{
		Type:         "game_started",
		Phase:        s.phase,
		CurrentRound: s.currentRound,
		TopicChooser: s.topicChooser,
		Topics:       s.topicsLocked(),
	}
	s.hub.broadcast(started)

	return started, nil
}

// SelectTopic sets the round's scenario. Only the chosen player may pick,
// either by candidate index or by writing a custom topic; a custom topic
// also joins the candidate list so everyone can see it.
func (s *Session) SelectTopic(player, customTopic string, topicIndex *int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if player != s.topicChooser {
		return "", gameError(KindForbidden, "not your turn to choose")
	}
	if s.phase != PhaseTopicSelection {
		return "", gameError(KindIllegalState, "no topic selection in progress")
	}

	if customTopic != "" {
		customTopic = strings.TrimSpace(customTopic)
		if customTopic == "" {
			return "", gameError(KindInvalidInput, "custom topic cannot be empty")
		}

		s.candidateTopics = append(s.candidateTopics, customTopic)
		s.currentTopic = customTopic
	} else {
		if topicIndex == nil || *topicIndex < 0 || *topicIndex >= len(s.candidateTopics) {
			return "", gameError(KindInvalidInput, "invalid topic index")
		}

		s.currentTopic = s.candidateTopics[*topicIndex]
	}

	s.phase = PhasePlanning
	s.resetPlansLocked()

	logf(s.cfg, "GAMES: Topic for %s round %d: %q", s.id, s.currentRound, s.currentTopic)

	s.hub.broadcast(topicSelectedEvent{
		Type:  "topic_selected",
		Phase: s.phase,
		Topic: s.currentTopic,
	})

	return s.currentTopic, nil
}

// SubmitPlan records a player's survival plan and marks them ready.
func (s *Session) SubmitPlan(player, plan string) (bool, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return false, gameError(KindInvalidInput, "plan cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	p, ok := s.byName[player]
	if !ok {
		return false, gameError(KindNotFound, "player not in game")
	}
	if s.phase != PhasePlanning {
		return false, gameError(KindIllegalState, "not in planning phase")
	}

	p.CurrentPlan = plan
	p.Ready = true

	allReady := s.allReadyLocked()

	s.hub.broadcast(planSubmittedEvent{
		Type:       "plan_submitted",
		PlayerName: player,
		AllReady:   allReady,
		Players:    s.summariesLocked(),
	})

	return allReady, nil
}

// Evaluate judges every player's plan against the current topic, in join
// order, and moves the session to the results phase. The evaluate lock is
// held only for the duration of the oracle calls; it rejects a duplicate
// trigger while this round's judging is in flight.
func (s *Session) Evaluate(ctx context.Context) ([]Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.phase != PhasePlanning {
		return nil, gameError(KindIllegalState, "not in planning phase")
	}
	if s.locks[ActionEvaluate] {
		return nil, gameError(KindIllegalState, "evaluation already in progress")
	}
	if !s.allReadyLocked() {
		return nil, gameError(KindNotReady, "not all players ready")
	}

	s.locks[ActionEvaluate] = true
	s.hub.broadcast(actionLockEvent{Type: "action_locked", Action: ActionEvaluate})

	results := make([]Verdict, 0, len(s.players))
	for _, p := range s.players {
		survived, reason := s.oracle.JudgeSurvival(ctx, s.currentTopic, p.Name, p.CurrentPlan)

		if survived {
			p.SurvivalCount++
		} else {
			p.DeathCount++
		}

		results = append(results, Verdict{
			Player:   p.Name,
			Survived: survived,
			Reason:   reason,
			Plan:     p.CurrentPlan,
		})
	}

	s.roundHistory = append(s.roundHistory, RoundRecord{
		Round:   s.currentRound,
		Topic:   s.currentTopic,
		Results: results,
	})

	s.phase = PhaseResults

	logf(s.cfg, "GAMES: Judged %s round %d, %d verdicts", s.id, s.currentRound, len(results))

	s.hub.broadcast(roundResultsEvent{
		Type:    "round_results",
		Phase:   s.phase,
		Results: results,
	})

	s.locks[ActionEvaluate] = false
	s.hub.broadcast(actionLockEvent{Type: "action_unlocked", Action: ActionEvaluate})

	return results, nil
}

// NextRound either ends the game (final round reached) or sets up the
// next round with a fresh chooser and fresh topics. The session stays
// locked for good once the game is over.
func (s *Session) NextRound(ctx context.Context) (*gameOverEvent, *nextRoundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()

	if s.locks[ActionNextRound] {
		return nil, nil, gameError(KindIllegalState, "next round already in progress")
	}
	if len(s.players) == 0 {
		return nil, nil, gameError(KindIllegalState, "no players in game")
	}

	s.locks[ActionNextRound] = true
	s.hub.broadcast(actionLockEvent{Type: "action_locked", Action: ActionNextRound})

	if s.currentRound >= s.maxRounds {
		s.phase = PhaseGameOver

		// Ties resolve to the earliest-joined player.
		winner := s.players[0]
		for _, p := range s.players[1:] {
			if p.SurvivalCount > winner.SurvivalCount {
				winner = p
			}
		}

		scores := make(map[string]FinalScore, len(s.players))
		for _, p := range s.players {
			scores[p.Name] = FinalScore{
				Survivals: p.SurvivalCount,
				Deaths:    p.DeathCount,
			}
		}

		logf(s.cfg, "GAMES: %s is over, %q wins with %d survivals", s.id, winner.Name, winner.SurvivalCount)

		over := &gameOverEvent{
			Type:        "game_over",
			GameOver:    true,
			Phase:       s.phase,
			Winner:      winner.Name,
			FinalScores: scores,
		}
		s.hub.broadcast(over)

		return over, nil, nil
	}

	s.currentRound++
	s.phase = PhaseTopicSelection
	s.chooseTopicChooserLocked()
	s.candidateTopics = s.oracle.GenerateTopics(ctx)
	s.currentTopic = ""
	s.resetPlansLocked()

	// Unlock everything so the next cycle can run start-to-finish.
	s.locks[ActionStart] = false
	s.locks[ActionEvaluate] = false
	s.locks[ActionNextRound] = false

	logf(s.cfg, "GAMES: %s advanced to round %d of %d, %q chooses the topic", s.id, s.currentRound, s.maxRounds, s.topicChooser)

	next := &nextRoundEvent{
		Type:         "next_round",
		GameOver:     false,
		Phase:        s.phase,
		NextRound:    s.currentRound,
		TopicChooser: s.topicChooser,
		Topics:       s.topicsLocked(),
		Players:      s.summariesLocked(),
	}
	s.hub.broadcast(next)

	return nil, next, nil
}

// Snapshot returns a read-only view of the session.
func (s *Session) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StateSnapshot{
		Phase:        s.phase,
		CurrentRound: s.currentRound,
		MaxRounds:    s.maxRounds,
		Players:      s.summariesLocked(),
		TopicChooser: s.topicChooser,
		Topics:       s.topicsLocked(),
		CurrentTopic: s.currentTopic,
	}
}
