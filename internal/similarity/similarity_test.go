package similarity

import "testing"

func TestScore(t *testing.T) {
	cases := []struct {
		a, b string
		want string // "high", "low", "exact"
	}{
		{"user likes coffee", "user likes coffee", "exact"},
		{"User likes coffee.", "user likes coffee", "exact"},
		{"user likes coffee", "the user likes coffee", "high"},
		{"likes coffee", "likes coffee in the morning", "exact"},
		{"user likes coffee", "user plays shogi on weekends", "low"},
		{"user lives in Osaka", "user lives in Tokyo", "low"},
		{"", "", "exact"},
		{"something", "", "low"},
	}
	for _, tc := range cases {
		got := Score(tc.a, tc.b)
		switch tc.want {
		case "exact":
			if got != 1 {
				t.Errorf("Score(%q, %q) = %.2f, want 1", tc.a, tc.b, got)
			}
		case "high":
			if got < DefaultThreshold {
				t.Errorf("Score(%q, %q) = %.2f, want >= %.2f", tc.a, tc.b, got, DefaultThreshold)
			}
		case "low":
			if got >= DefaultThreshold {
				t.Errorf("Score(%q, %q) = %.2f, want < %.2f", tc.a, tc.b, got, DefaultThreshold)
			}
		}
	}
}

func TestSimilarDefaultThreshold(t *testing.T) {
	if !Similar("user likes coffee", "user likes coffee a lot", 0) {
		t.Error("near-duplicate should pass the default threshold")
	}
	if Similar("user likes coffee", "user dislikes loud music", 0) {
		t.Error("unrelated content should not pass")
	}
}
