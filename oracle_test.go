package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeModel stands in for an Ollama /api/generate endpoint.
func fakeModel(t *testing.T, response string, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("streaming requested")
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: response})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func oracleFor(srv *httptest.Server) *ollamaOracle {
	return newOllamaOracle(&Config{
		topicOracle:   srv.URL,
		judgeOracle:   srv.URL,
		oracleModel:   "testmodel",
		oracleTimeout: 2 * time.Second,
	})
}

func assertThreeTopics(t *testing.T, topics []string) {
	t.Helper()

	if len(topics) != 3 {
		t.Fatalf("got %d topics, want 3: %v", len(topics), topics)
	}
	for i, topic := range topics {
		if topic == "" {
			t.Errorf("topic %d is empty", i)
		}
	}
}

func TestGenerateTopicsParsesNumberedList(t *testing.T) {
	srv := fakeModel(t, "Here you go:\n1. A volcano erupts beneath your town\n2) Wolves surround your tent\n- The dam upstream just burst\n", http.StatusOK)

	topics := oracleFor(srv).GenerateTopics(context.Background())

	assertThreeTopics(t, topics)
	want := []string{
		"A volcano erupts beneath your town",
		"Wolves surround your tent",
		"The dam upstream just burst",
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topic %d = %q, want %q", i, topics[i], want[i])
		}
	}
}

func TestGenerateTopicsTruncatesExtras(t *testing.T) {
	srv := fakeModel(t, "1. one\n2. two\n3. three\n4. four\n5. five", http.StatusOK)

	assertThreeTopics(t, oracleFor(srv).GenerateTopics(context.Background()))
}

func TestGenerateTopicsFallsBackOnSparseOutput(t *testing.T) {
	srv := fakeModel(t, "I'd rather not generate scenarios today.", http.StatusOK)

	assertThreeTopics(t, oracleFor(srv).GenerateTopics(context.Background()))
}

func TestGenerateTopicsFallsBackOnServerError(t *testing.T) {
	srv := fakeModel(t, "", http.StatusInternalServerError)

	assertThreeTopics(t, oracleFor(srv).GenerateTopics(context.Background()))
}

func TestGenerateTopicsFallsBackWhenUnreachable(t *testing.T) {
	srv := fakeModel(t, "", http.StatusOK)
	srv.Close()

	assertThreeTopics(t, oracleFor(srv).GenerateTopics(context.Background()))
}

func TestJudgeSurvivalParsesVerdicts(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantSurvived bool
		wantReason   string
	}{
		{"survived with reason", "SURVIVED: kept calm and rationed water", true, "kept calm and rationed water"},
		{"died with reason", "DIED: froze before morning", false, "froze before morning"},
		{"survived without reason", "SURVIVED", true, "Their plan was adequate"},
		{"died without reason", "DIED", false, "Their plan was inadequate"},
		{"lowercase verdict", "they survived: barely", true, "barely"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := fakeModel(t, tc.response, http.StatusOK)

			survived, reason := oracleFor(srv).JudgeSurvival(context.Background(), "a flood", "Alice", "climb")

			if survived != tc.wantSurvived {
				t.Errorf("survived = %v, want %v", survived, tc.wantSurvived)
			}
			if reason != tc.wantReason {
				t.Errorf("reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

func TestJudgeSurvivalFallbackRewardsDetail(t *testing.T) {
	srv := fakeModel(t, "", http.StatusInternalServerError)
	oracle := oracleFor(srv)

	survived, _ := oracle.JudgeSurvival(context.Background(), "a flood", "Alice", "run")
	if survived {
		t.Error("short plan survived under fallback policy")
	}

	longPlan := "secure the attic, stockpile drinking water, and signal rescuers from the roof"
	survived, _ = oracle.JudgeSurvival(context.Background(), "a flood", "Alice", longPlan)
	if !survived {
		t.Error("detailed plan died under fallback policy")
	}
}

func TestJudgeSurvivalFallbackOnGibberish(t *testing.T) {
	srv := fakeModel(t, "the fate of this player is uncertain", http.StatusOK)

	survived, reason := oracleFor(srv).JudgeSurvival(context.Background(), "a flood", "Alice", "swim")
	if survived {
		t.Error("short plan survived under fallback policy")
	}
	if reason != "Plan lacked detail" {
		t.Errorf("reason = %q, want fallback reason", reason)
	}
}

func TestParseTopics(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
	}{
		{"numbered", "1. a\n2. b\n3. c", 3},
		{"dashed", "- a\n- b\n- c", 3},
		{"mixed prose", "Sure!\n1. a\nsome chatter\n2. b", 2},
		{"empty", "", 0},
		{"numbering only", "1.\n2.\n3.", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseTopics(tc.response); len(got) != tc.want {
				t.Errorf("parsed %d topics, want %d: %v", len(got), tc.want, got)
			}
		})
	}
}
