package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Oracle produces scenario topics and survival verdicts. Both methods are
// total: upstream failures degrade to fallback output, never to an error,
// so a dead model slows a game down but cannot stop it.
type Oracle interface {
	// GenerateTopics always returns exactly three non-empty scenarios.
	GenerateTopics(ctx context.Context) []string
	// JudgeSurvival decides whether a plan survives the topic.
	JudgeSurvival(ctx context.Context, topic, player, plan string) (survived bool, reason string)
}

const topicPrompt = `Generate exactly 3 dangerous survival scenarios. Each should be a single sentence describing a life-threatening situation.
Format your response as a numbered list:
1. [First scenario]
2. [Second scenario]
3. [Third scenario]

Examples of scenarios:
- You are trapped in a burning building on the 10th floor
- A massive tsunami is heading toward your coastal town
- You are lost in the Arctic with no supplies

Generate 3 NEW creative and dangerous scenarios now:`

const judgePromptFormat = `You are a survival judge. A player named %s is facing this situation:
%s

Their survival plan is:
%s

Evaluate their plan and determine if they would survive or die. Consider:
- Realism of the plan
- Resourcefulness
- Logical thinking
- Completeness of the solution

Respond with EXACTLY ONE of these two formats:
SURVIVED: [brief reason why they survived]
DIED: [brief reason why they died]

Your judgment:`

// fallbackTopics is used when the model's output can't be parsed into
// three scenarios; requestFailedTopics when the call itself fails.
var fallbackTopics = []string{
	"You are stranded on a deserted island with limited supplies and dangerous wildlife",
	"A deadly pandemic has broken out and society is collapsing around you",
	"You wake up in an underground bunker with no memory and the air supply is running out",
}

var requestFailedTopics = []string{
	"You are trapped in a zombie apocalypse in a shopping mall",
	"A massive earthquake has destroyed your city and you are buried under rubble",
	"You are lost in a dense jungle with predators hunting you",
}

// ollamaOracle talks to one or two Ollama-compatible /api/generate
// endpoints: one for topic generation, one for judging.
type ollamaOracle struct {
	cfg      *Config
	topicURL string
	judgeURL string
	model    string
	timeout  time.Duration
	client   *http.Client
}

func newOllamaOracle(cfg *Config) *ollamaOracle {
	return &ollamaOracle{
		cfg:      cfg,
		topicURL: strings.TrimSuffix(cfg.topicOracle, "/"),
		judgeURL: strings.TrimSuffix(cfg.judgeOracle, "/"),
		model:    cfg.oracleModel,
		timeout:  cfg.oracleTimeout,
		client:   &http.Client{},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (o *ollamaOracle) generate(ctx context.Context, baseURL, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}

	return decoded.Response, nil
}

// GenerateTopics asks the topic model for three scenarios, parsing its
// numbered-list output. Anything short of three parsed lines falls back
// to a canned trio.
func (o *ollamaOracle) GenerateTopics(ctx context.Context) []string {
	response, err := o.generate(ctx, o.topicURL, topicPrompt)
	if err != nil {
		logf(o.cfg, "ORACLE: Topic generation failed, using fallback scenarios: %v", err)
		return append([]string(nil), requestFailedTopics...)
	}

	topics := parseTopics(response)
	if len(topics) < 3 {
		logf(o.cfg, "ORACLE: Parsed %d topics from response, using fallback scenarios", len(topics))
		return append([]string(nil), fallbackTopics...)
	}

	return topics[:3]
}

// parseTopics extracts scenario lines from a numbered or dashed list.
func parseTopics(response string) []string {
	var topics []string

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line[0] >= '0' && line[0] <= '9' || strings.HasPrefix(line, "-") {
			topic := strings.TrimSpace(strings.TrimLeft(line, "0123456789.-) "))
			if topic != "" {
				topics = append(topics, topic)
			}
		}
	}

	return topics
}

// JudgeSurvival asks the judge model for a SURVIVED/DIED verdict. An
// unparseable or failed response falls back to rewarding detailed plans:
// longer than 50 characters survives.
func (o *ollamaOracle) JudgeSurvival(ctx context.Context, topic, player, plan string) (bool, string) {
	response, err := o.generate(ctx, o.judgeURL, fmt.Sprintf(judgePromptFormat, player, topic, plan))
	if err != nil {
		logf(o.cfg, "ORACLE: Judgment for %q failed, using fallback policy: %v", player, err)
		return fallbackVerdict(plan)
	}

	if survived, reason, ok := parseVerdict(response); ok {
		return survived, reason
	}

	logf(o.cfg, "ORACLE: Unparseable judgment for %q, using fallback policy", player)
	return fallbackVerdict(plan)
}

func parseVerdict(response string) (survived bool, reason string, ok bool) {
	upper := strings.ToUpper(response)

	switch {
	case strings.Contains(upper, "SURVIVED"):
		return true, verdictReason(response, "Their plan was adequate"), true
	case strings.Contains(upper, "DIED"):
		return false, verdictReason(response, "Their plan was inadequate"), true
	default:
		return false, "", false
	}
}

func verdictReason(response, fallback string) string {
	if _, after, found := strings.Cut(response, ":"); found {
		if reason := strings.TrimSpace(after); reason != "" {
			return reason
		}
	}
	return fallback
}

func fallbackVerdict(plan string) (bool, string) {
	if len(plan) > 50 {
		return true, "Detailed planning saved them"
	}
	return false, "Plan lacked detail"
}
