package jsrun

import (
	"errors"
	"testing"

	"github.com/hostwire/jsrun/internal/core"
)

func TestScriptToCore(t *testing.T) {
	cs, err := Function(`1 + 1`, map[string]int{"n": 3}).toCore()
	if err != nil {
		t.Fatalf("toCore: %v", err)
	}
	if cs.Kind != core.KindFunction || cs.Code != `1 + 1` {
		t.Errorf("core script = %+v", cs)
	}
	if string(cs.Args) != `{"n":3}` {
		t.Errorf("Args = %s, want {\"n\":3}", cs.Args)
	}

	cs, err = Page("items", nil).toCore()
	if err != nil {
		t.Fatalf("toCore: %v", err)
	}
	if cs.Kind != core.KindPage || cs.Name != "items" || cs.Args != nil {
		t.Errorf("core script = %+v", cs)
	}

	cs, err = Call("sum.js", []int{1, 2}).toCore()
	if err != nil {
		t.Fatalf("toCore: %v", err)
	}
	if cs.Kind != core.KindCall || string(cs.Args) != `[1,2]` {
		t.Errorf("core script = %+v", cs)
	}
}

func TestScriptToCoreUnmarshalableArgs(t *testing.T) {
	_, err := Function(`1`, func() {}).toCore()
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError for unmarshalable args, got %v", err)
	}
}
