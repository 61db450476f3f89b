package panes

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/keeperhq/keeper/internal/llm"
	"github.com/keeperhq/keeper/internal/memory"
	"github.com/keeperhq/keeper/internal/state"
)

// scriptedLLM answers prompts in order, matching by substring so tests can
// script the decision step and the generation step separately.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[string]string // prompt substring -> reply
	err     error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	prompt := messages[len(messages)-1].Content
	s.prompts = append(s.prompts, prompt)
	for needle, reply := range s.answers {
		if strings.Contains(prompt, needle) {
			return reply, nil
		}
	}
	return "", errors.New("unscripted prompt")
}

// recordingSink captures everything a worker publishes.
type recordingSink struct {
	mu            sync.Mutex
	phases        []string
	history       []string
	illustrations []string
}

func (r *recordingSink) Phase(pane, phase string, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, pane+"/"+phase)
}

func (r *recordingSink) History(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, text)
}

func (r *recordingSink) Illustration(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.illustrations = append(r.illustrations, url)
}

func (r *recordingSink) phaseList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.phases...)
}

type fakeImages struct {
	url string
	err error
}

func (f *fakeImages) Generate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHistoryUpdater_UpdatesOnProgression(t *testing.T) {
	client := &scriptedLLM{answers: map[string]string{
		"YES or NO":       "YES",
		"updated summary": "The investigators entered the abandoned Marsh house and found a torn diary page.",
	}}
	st := state.NewStore()
	mem := memory.NewBuffer(0)
	sink := &recordingSink{}

	u := NewHistoryUpdater(client, st, mem, sink, testLogger())
	work := u.Work("I open the front door.", "The door creaks open into darkness.", 1)

	if err := work(context.Background()); err != nil {
		t.Fatalf("work returned error: %v", err)
	}

	want := []string{"history/evaluating", "history/summarizing", "history/updated"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if len(sink.history) != 1 || !strings.Contains(sink.history[0], "Marsh house") {
		t.Fatalf("history notifications = %v", sink.history)
	}
	if got := st.Get().History; got != sink.history[0] {
		t.Fatalf("stored history = %q, want committed summary", got)
	}
}

func TestHistoryUpdater_NoUpdateWhenGateSaysNo(t *testing.T) {
	client := &scriptedLLM{answers: map[string]string{"YES or NO": "NO"}}
	st := state.NewStore()
	mem := memory.NewBuffer(0)
	mem.Append(memory.RoleUser, "How does the Luck roll work?")
	sink := &recordingSink{}

	u := NewHistoryUpdater(client, st, mem, sink, testLogger())
	if err := u.Work("", "", 2)(context.Background()); err != nil {
		t.Fatalf("work returned error: %v", err)
	}

	want := []string{"history/evaluating", "history/unchanged"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if before := state.NewStore().Get().History; st.Get().History != before {
		t.Fatal("history changed despite NO decision")
	}
}

func TestHistoryUpdater_EmptyTranscriptIsUnchanged(t *testing.T) {
	client := &scriptedLLM{}
	sink := &recordingSink{}
	u := NewHistoryUpdater(client, state.NewStore(), memory.NewBuffer(0), sink, testLogger())

	if err := u.Work("", "", 1)(context.Background()); err != nil {
		t.Fatalf("work returned error: %v", err)
	}
	want := []string{"history/unchanged"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if len(client.prompts) != 0 {
		t.Fatal("LLM was called for an empty transcript")
	}
}

func TestHistoryUpdater_CancellationPublishesCancelledPhase(t *testing.T) {
	client := &scriptedLLM{err: context.Canceled}
	st := state.NewStore()
	sink := &recordingSink{}
	u := NewHistoryUpdater(client, st, memory.NewBuffer(0), sink, testLogger())

	err := u.Work("I search the study.", "", 3)(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	want := []string{"history/evaluating", "history/cancelled"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if st.Get().History != state.DefaultHistory {
		t.Fatal("cancelled run left partial state")
	}
}

func TestHistoryUpdater_ErrorPublishesErrorPhase(t *testing.T) {
	client := &scriptedLLM{err: errors.New("connection refused")}
	sink := &recordingSink{}
	u := NewHistoryUpdater(client, state.NewStore(), memory.NewBuffer(0), sink, testLogger())

	if err := u.Work("I read the diary.", "", 4)(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	want := []string{"history/evaluating", "history/error"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
}

func TestSceneUpdater_GeneratesAndCommitsImage(t *testing.T) {
	client := &scriptedLLM{answers: map[string]string{
		"YES or NO":   "YES",
		"description": "A fog-shrouded Victorian mansion at dusk, a single lit window, overgrown garden.",
	}}
	st := state.NewStore()
	mem := memory.NewBuffer(0)
	sink := &recordingSink{}
	images := &fakeImages{url: "/public/illustrations/scene-1.png"}

	u := NewSceneUpdater(client, images, st, mem, sink, testLogger())
	work := u.Work("We approach the mansion.", "The fog thickens as you near the gate.", 5)

	if err := work(context.Background()); err != nil {
		t.Fatalf("work returned error: %v", err)
	}

	want := []string{"scene/evaluating", "scene/describing", "scene/imaging", "scene/updated"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if got := st.Get().IllustrationURL; got != images.url {
		t.Fatalf("stored illustration = %q, want %q", got, images.url)
	}
	if len(sink.illustrations) != 1 || sink.illustrations[0] != images.url {
		t.Fatalf("illustration notifications = %v", sink.illustrations)
	}
}

func TestSceneUpdater_ImageFailureIsNonFatal(t *testing.T) {
	client := &scriptedLLM{answers: map[string]string{
		"YES or NO":   "YES",
		"description": "A dark basement lit by one swinging bulb.",
	}}
	st := state.NewStore()
	sink := &recordingSink{}
	images := &fakeImages{err: errors.New("txt2img: 503")}

	u := NewSceneUpdater(client, images, st, memory.NewBuffer(0), sink, testLogger())
	if err := u.Work("We descend the stairs.", "", 6)(context.Background()); err != nil {
		t.Fatalf("image failure should not fail the task: %v", err)
	}

	want := []string{"scene/evaluating", "scene/describing", "scene/imaging", "scene/imaging_failed"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	if got := st.Get().IllustrationURL; got != state.DefaultIllustrationURL {
		t.Fatalf("illustration changed on failure: %q", got)
	}
}

func TestSceneUpdater_NoSceneChange(t *testing.T) {
	client := &scriptedLLM{answers: map[string]string{"YES or NO": "no"}}
	sink := &recordingSink{}
	u := NewSceneUpdater(client, &fakeImages{}, state.NewStore(), memory.NewBuffer(0), sink, testLogger())

	if err := u.Work("What's my SAN again?", "", 7)(context.Background()); err != nil {
		t.Fatalf("work returned error: %v", err)
	}
	want := []string{"scene/evaluating", "scene/unchanged"}
	if got := sink.phaseList(); !equalStrings(got, want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
}

func TestBuildTranscript_AppendsMissingTail(t *testing.T) {
	mem := memory.NewBuffer(0)
	mem.Append(memory.RoleUser, "Hello Keeper")
	mem.Append(memory.RoleKeeper, "Welcome, investigator")

	got := buildTranscript(mem, "I check the mail", "A letter with no return address")
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4: %v", len(got), got)
	}
	if got[2].Content != "I check the mail" || got[2].Role != memory.RoleUser {
		t.Fatalf("appended user turn wrong: %+v", got[2])
	}
	if got[3].Content != "A letter with no return address" || got[3].Role != memory.RoleKeeper {
		t.Fatalf("appended keeper turn wrong: %+v", got[3])
	}
}

func TestBuildTranscript_SkipsAlreadyCapturedTail(t *testing.T) {
	mem := memory.NewBuffer(0)
	mem.Append(memory.RoleUser, "I check the mail")
	mem.Append(memory.RoleKeeper, "A letter with no return address")

	got := buildTranscript(mem, "I check the mail", "A letter with no return address")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (no duplicate tail): %v", len(got), got)
	}
}

func TestFormatTranscript(t *testing.T) {
	turns := []memory.Turn{
		{Role: memory.RoleUser, Content: "one"},
		{Role: memory.RoleKeeper, Content: "two"},
		{Role: memory.RoleUser, Content: "three"},
	}
	got := formatTranscript(turns, 2)
	want := "Keeper: two\nUser: three"
	if got != want {
		t.Fatalf("formatTranscript = %q, want %q", got, want)
	}
	if got := formatTranscript(turns, 0); !strings.HasPrefix(got, "User: one") {
		t.Fatalf("k<=0 should include everything, got %q", got)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"plain ascii", 5, "plain"},
		{"short", 10, "short"},
		// "é" is two bytes; a cap landing inside it must back off.
		{"caféteria", 4, "caf"},
		{"caféteria", 5, "café"},
		{"ééé", 1, ""},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.n)
		}
	}
}

func TestYes(t *testing.T) {
	for input, want := range map[string]bool{
		"YES":        true,
		"yes.":       true,
		" Yes, the ": true,
		"NO":         false,
		"maybe":      false,
		"":           false,
	} {
		if got := yes(input); got != want {
			t.Errorf("yes(%q) = %v, want %v", input, got, want)
		}
	}
}
