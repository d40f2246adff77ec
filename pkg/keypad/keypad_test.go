package keypad

import (
	"errors"
	"strings"
	"testing"

	"github.com/lemonberrylabs/calculator/pkg/types"
)

func TestKeySequences(t *testing.T) {
	tests := []struct {
		keys string
		want string
	}{
		{"", "0"},
		{"5", "5"},
		{"5+3=", "8"},
		{"2+3*4=", "20"},
		{"12.5/2=", "6.25"},
		{"9-12=", "-3"},
		{"9-12=*2=", "-6"},
		{"2-5=-4=", "-7"},
		{"1+2+", "3"},    // operator press shows the running total
		{"1+2+3", "3"},   // typing replaces the shown total
		{"1+2+3=", "6"},
		{"5++", "10"},    // repeated operator reuses the displayed number
		{"50%", "0.5"},
		{"50%%", "0.005"},
		{"1.2.3", "1.23"}, // second decimal point ignored
		{"..5", ".5"},
		{"5=", "5"},      // equals without a pending operator does nothing
		{"5=3", "53"},    // and leaves the entry open
		{"7+C", "0"},
		{"0.1+0.2=", "0.30000000000000004"},
		{"5/0=", DisplayDivByZero},
		{"5/0+", DisplayDivByZero},
		{"5/0=7", "7"},
		{".+", DisplayInvalid},
		{".=", DisplayInvalid},
		{".%", DisplayInvalid},
		{" 1 + 1 = ", "2"},
		{"c", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.keys, func(t *testing.T) {
			c := New()
			if err := c.PressAll(tt.keys); err != nil {
				t.Fatalf("PressAll error: %v", err)
			}
			if got := c.Display(); got != tt.want {
				t.Errorf("display = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorClearsPendingOperator(t *testing.T) {
	c := New()
	if err := c.PressAll("5/0="); err != nil {
		t.Fatal(err)
	}
	s := c.Snapshot()
	if s.Operator != "" {
		t.Errorf("operator = %q, want empty", s.Operator)
	}
	if !s.NewNumber || !s.Error {
		t.Errorf("expected newNumber and error flags, got %+v", s)
	}

	// The failed division does not replace the running total.
	if s.Total != 5 {
		t.Errorf("total = %v, want 5", s.Total)
	}

	// Error text is never parsed as a number.
	if err := c.Press(KeyPlus); err != nil {
		t.Fatal(err)
	}
	if c.Display() != DisplayInvalid {
		t.Errorf("display = %q, want %q", c.Display(), DisplayInvalid)
	}
}

func TestDigitLimit(t *testing.T) {
	c := New()
	if err := c.PressAll(strings.Repeat("1", 20)); err != nil {
		t.Fatal(err)
	}
	if got := c.Display(); got != strings.Repeat("1", DefaultMaxDigits) {
		t.Errorf("display = %q", got)
	}

	// The decimal point does not count towards the limit.
	c = New()
	if err := c.PressAll("1234567.8901234567"); err != nil {
		t.Fatal(err)
	}
	if got := c.Display(); got != "1234567.89012345" {
		t.Errorf("display = %q, want 15 digits plus the point", got)
	}

	c = New(WithMaxDigits(3))
	if err := c.PressAll("98765+4321"); err != nil {
		t.Fatal(err)
	}
	if got := c.Display(); got != "432" {
		t.Errorf("display = %q, want %q", got, "432")
	}
}

type recorded struct {
	expression string
	result     float64
	err        error
}

type sliceRecorder struct {
	entries []recorded
}

func (r *sliceRecorder) Record(expression string, result float64, err error) {
	r.entries = append(r.entries, recorded{expression, result, err})
}

func TestRecorderSeesComposedExpressions(t *testing.T) {
	rec := &sliceRecorder{}
	c := New(WithRecorder(rec))
	if err := c.PressAll("2+3*4=9-12=/0="); err != nil {
		t.Fatal(err)
	}

	want := []string{"2+3", "5*4", "9-12", "-3/0"}
	if len(rec.entries) != len(want) {
		t.Fatalf("got %d recorded evaluations %+v, want %d", len(rec.entries), rec.entries, len(want))
	}
	for i, w := range want {
		if rec.entries[i].expression != w {
			t.Errorf("entry %d = %q, want %q", i, rec.entries[i].expression, w)
		}
	}
	if rec.entries[1].result != 20 {
		t.Errorf("5*4 recorded %v", rec.entries[1].result)
	}
	if !errors.Is(rec.entries[3].err, types.ErrDivisionByZero) {
		t.Errorf("expected division by zero, got %v", rec.entries[3].err)
	}
}

func TestNegativeOperandIsComposedAsSign(t *testing.T) {
	// A negative entry with a pending operator is only reachable through a
	// restored state, since the minus key always acts as an operator.
	rec := &sliceRecorder{}
	c := Restore(State{Display: "-3", Total: 5, Operator: "-", NewNumber: false}, WithRecorder(rec))
	if err := c.Press(KeyEquals); err != nil {
		t.Fatal(err)
	}
	if c.Display() != "8" {
		t.Errorf("display = %q, want 8", c.Display())
	}
	if rec.entries[0].expression != "5--3" {
		t.Errorf("expression = %q, want %q", rec.entries[0].expression, "5--3")
	}
}

func TestSnapshotRestore(t *testing.T) {
	c := New()
	if err := c.PressAll("12+3"); err != nil {
		t.Fatal(err)
	}
	s := c.Snapshot()
	if s.Display != "3" || s.Total != 12 || s.Operator != "+" || s.NewNumber {
		t.Fatalf("unexpected snapshot %+v", s)
	}

	restored := Restore(s)
	if err := restored.PressAll("4="); err != nil {
		t.Fatal(err)
	}
	if restored.Display() != "46" {
		t.Errorf("display = %q, want 46", restored.Display())
	}
}

func TestRestoreDropsUnknownOperator(t *testing.T) {
	for _, op := range []string{"^", "**", "%", "x"} {
		c := Restore(State{Display: "3", Total: 12, Operator: op})
		if got := c.Snapshot().Operator; got != "" {
			t.Errorf("Restore kept operator %q as %q", op, got)
		}
		if err := c.PressAll("="); err != nil {
			t.Fatal(err)
		}
		if c.Display() != "3" {
			t.Errorf("after %q: display = %q, want 3", op, c.Display())
		}
	}

	c := Restore(State{Display: "3", Total: 12, Operator: "*"})
	if err := c.PressAll("="); err != nil {
		t.Fatal(err)
	}
	if c.Display() != "36" {
		t.Errorf("display = %q, want 36", c.Display())
	}
}

func TestUnknownKey(t *testing.T) {
	c := New()
	err := c.PressAll("1+x")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	// Keys before the bad one were applied.
	if c.Display() != "1" || c.Snapshot().Operator != "+" {
		t.Errorf("unexpected state %+v", c.Snapshot())
	}
}
