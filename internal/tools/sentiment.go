package tools

import "strings"

// sentimentLexicon scores message words. Deliberately small and fixed in
// source so the analytic is deterministic across runs and deployments.
var sentimentLexicon = map[string]float64{
	"good": 1, "great": 2, "excellent": 2, "awesome": 2, "love": 2,
	"nice": 1, "thanks": 1, "thank": 1, "works": 1, "fixed": 1,
	"resolved": 1, "shipped": 1, "done": 1, "perfect": 2, "yes": 0.5,
	"happy": 1, "fast": 0.5, "clean": 0.5,

	"bad": -1, "terrible": -2, "awful": -2, "hate": -2, "broken": -1,
	"bug": -1, "fail": -1, "failed": -1, "failing": -1, "error": -1,
	"crash": -2, "slow": -0.5, "blocked": -1, "stuck": -1, "no": -0.5,
	"wrong": -1, "regression": -1, "outage": -2, "down": -1,
}

// sentimentScore averages lexicon weights over a message's words; 0 for
// messages with no scored words.
func sentimentScore(content string) float64 {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0
	}
	var total float64
	var scored int
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;()[]\"'`*")
		if weight, ok := sentimentLexicon[w]; ok {
			total += weight
			scored++
		}
	}
	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}
