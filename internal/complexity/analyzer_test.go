package complexity

import (
	"strings"
	"testing"

	"github.com/tributary-ai/intent-dispatch/internal/rules"
	"github.com/tributary-ai/intent-dispatch/internal/types"
)

func TestScore_AlwaysInRange(t *testing.T) {
	a := NewAnalyzer([]string{"payment_issue"})

	inputs := []string{
		"",
		"hi",
		"can you maybe help me with something",
		"i dont want to cancel but i might need a refund and also not pay and or dispute the urgent charge immediately",
		strings.Repeat("word ", 100),
	}

	for _, in := range inputs {
		score := a.Score(in, nil, nil)
		if score < 0 || score > 1 {
			t.Errorf("Score(%q) = %f, outside [0,1]", in, score)
		}
	}
}

func TestScore_DeterministicPriorLowersComplexity(t *testing.T) {
	a := NewAnalyzer(nil)
	text := "create a ticket for login issues"

	without := a.Score(text, nil, nil)
	with := a.Score(text, &rules.Match{Intent: "create_ticket", Confidence: 0.95}, nil)

	if with >= without {
		t.Errorf("a deterministic prior should lower complexity: with=%f without=%f", with, without)
	}
}

func TestScore_AmbiguityMarkersRaiseComplexity(t *testing.T) {
	a := NewAnalyzer(nil)

	plain := a.Score("show me the order status page", nil, nil)
	hedged := a.Score("maybe show me something about the order", nil, nil)
	negated := a.Score("i dont want the order status page shown", nil, nil)

	if hedged <= plain {
		t.Errorf("hedging should raise complexity: hedged=%f plain=%f", hedged, plain)
	}
	if negated <= plain {
		t.Errorf("negation should raise complexity: negated=%f plain=%f", negated, plain)
	}
}

func TestScore_SensitiveContextRaisesComplexity(t *testing.T) {
	a := NewAnalyzer([]string{"payment_issue"})
	text := "yes that one"

	neutral := a.Score(text, nil, []types.Turn{{Utterance: "hello", Intent: "greeting"}})
	sensitive := a.Score(text, nil, []types.Turn{{Utterance: "my card was charged twice", Intent: "payment_issue"}})

	if sensitive <= neutral {
		t.Errorf("a recent sensitive intent should raise complexity: sensitive=%f neutral=%f", sensitive, neutral)
	}
}

func TestScore_Pure(t *testing.T) {
	a := NewAnalyzer([]string{"payment_issue"})
	window := []types.Turn{{Utterance: "hello", Intent: "greeting"}}
	prior := &rules.Match{Intent: "greeting", Confidence: 0.5}

	first := a.Score("can you help me", prior, window)
	for i := 0; i < 10; i++ {
		if got := a.Score("can you help me", prior, window); got != first {
			t.Fatalf("Score must be deterministic: call %d returned %f, first returned %f", i, got, first)
		}
	}
}
