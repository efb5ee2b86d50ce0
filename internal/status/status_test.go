package status

import "testing"

func TestPickNeverRepeatsConsecutively(t *testing.T) {
	p := NewPicker()
	prev := ""
	for i := 0; i < 500; i++ {
		msg := p.Pick(Thinking)
		if msg == "" {
			t.Fatalf("empty message returned")
		}
		if i > 0 && msg == prev {
			t.Fatalf("consecutive repeat: %q", msg)
		}
		prev = msg
	}
}

func TestPickUnknownCategoryFallsBackToThinking(t *testing.T) {
	p := NewPicker()
	msg := p.Pick(Category("not-a-real-category"))
	found := false
	for _, m := range bank[Thinking] {
		if m == msg {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected fallback message from thinking bank, got %q", msg)
	}
}

func TestPickSingleMessageCategoryPermitsRepetition(t *testing.T) {
	p := NewPicker()
	bank["single_test_category"] = []string{"only one"}
	defer delete(bank, "single_test_category")

	for i := 0; i < 5; i++ {
		if msg := p.Pick("single_test_category"); msg != "only one" {
			t.Fatalf("expected the lone message, got %q", msg)
		}
	}
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"thinking", Thinking, true},
		{" CODING ", Coding, true},
		{"bogus", "", false},
	}
	for _, c := range cases {
		got, ok := ParseCategory(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ParseCategory(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
