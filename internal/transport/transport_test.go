package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/mira/internal/apperr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		resp     string
		rejected bool
	}{
		{"", false},
		{"Changed the block at 1, 2, 3", false},
		{"PASS", false},
		{"Unknown or incomplete command, see below for error", true},
		{"Incorrect argument for command", true},
		{"Invalid block state", true},
		{"Expected whitespace to end one argument", true},
	}
	for _, c := range cases {
		err := Classify(c.resp)
		if got := errors.Is(err, apperr.ErrSemanticRejection); got != c.rejected {
			t.Errorf("Classify(%q) rejected = %v, want %v", c.resp, got, c.rejected)
		}
	}
}

type scripted struct {
	resp string
	err  error
}

func (s scripted) Connect(context.Context) error { return nil }
func (s scripted) Close() error                  { return nil }
func (s scripted) Command(context.Context, string) (string, error) {
	return s.resp, s.err
}

func TestExec(t *testing.T) {
	ctx := context.Background()
	if _, err := Exec(ctx, scripted{resp: "ok"}, "say hi"); err != nil {
		t.Errorf("ok response: %v", err)
	}
	if _, err := Exec(ctx, scripted{resp: "Unknown block type"}, "setblock"); !errors.Is(err, apperr.ErrSemanticRejection) {
		t.Errorf("rejection: err = %v", err)
	}
	boom := errors.New("broken pipe")
	if _, err := Exec(ctx, scripted{err: boom}, "x"); !errors.Is(err, boom) {
		t.Errorf("transport error not propagated: %v", err)
	}
}
