package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"lyra/internal/domain"
	"lyra/internal/protocol"
	"lyra/internal/safety"
)

const substantialReply = "That sounds like a lot to hold. What part of it has been weighing on you the most today"

func newTestReducer(speech bool) *Reducer {
	counter := 0
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewReducer(ReducerConfig{
		NewID: func() string {
			counter++
			return fmt.Sprintf("msg-%d", counter)
		},
		Now:           func() time.Time { return base },
		SpeechEnabled: speech,
	})
}

func mustReduce(t *testing.T, r *Reducer, s State, action Action) Transition {
	t.Helper()
	tr := r.Reduce(s, action)
	if tr.Err != nil {
		t.Fatalf("%T rejected: %v", action, tr.Err)
	}
	return tr
}

func readySession(t *testing.T, r *Reducer) State {
	t.Helper()
	s := mustReduce(t, r, Initial(), EngineReady{}).State
	return mustReduce(t, r, s, Navigate{Screen: domain.ScreenSession}).State
}

func completeTurn(t *testing.T, r *Reducer, s State, text string) State {
	t.Helper()
	s = mustReduce(t, r, s, SendText{Text: text}).State
	s = mustReduce(t, r, s, LlmResult{Text: substantialReply, RiskLevel: protocol.RiskGreen}).State
	return mustReduce(t, r, s, PlaybackDone{}).State
}

func hasEffect[T Effect](effects []Effect) (T, bool) {
	for _, effect := range effects {
		if typed, ok := effect.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

func sentRequests(effects []Effect) []protocol.Request {
	var out []protocol.Request
	for _, effect := range effects {
		if send, ok := effect.(SendEngine); ok {
			out = append(out, send.Request)
		}
	}
	return out
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	s := Initial()
	if s.Screen != domain.ScreenLanding || s.EngineStatus != domain.EngineStatusLoading {
		t.Fatalf("unexpected initial screen/status: %+v", s)
	}
	if s.OrbState != domain.OrbDisabled || s.InputMode != domain.InputVoice {
		t.Fatalf("unexpected initial orb/input: %+v", s)
	}
	if len(s.Messages) != 0 || s.RiskLevel != domain.RiskNone {
		t.Fatalf("expected empty conversation")
	}
}

func TestEnteringSessionSeedsOneIntroMessage(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)

	if len(s.Messages) != 1 {
		t.Fatalf("expected exactly one seeded message, got %d", len(s.Messages))
	}
	intro := s.Messages[0]
	if intro.Role != domain.RoleAssistant || intro.Text != DefaultIntro || intro.Status != domain.MessageFinal {
		t.Fatalf("unexpected intro message: %+v", intro)
	}
	if s.OrbState != domain.OrbIdle {
		t.Fatalf("expected idle orb with ready engine, got %s", s.OrbState)
	}

	again := mustReduce(t, r, s, Navigate{Screen: domain.ScreenSession}).State
	if len(again.Messages) != 1 {
		t.Fatalf("re-entering session must not seed again, got %d", len(again.Messages))
	}
}

func TestEnteringSessionBeforeEngineReadyDisablesOrb(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := mustReduce(t, r, Initial(), Navigate{Screen: domain.ScreenSession}).State
	if s.OrbState != domain.OrbDisabled {
		t.Fatalf("expected disabled orb, got %s", s.OrbState)
	}
	s = mustReduce(t, r, s, EngineReady{}).State
	if s.OrbState != domain.OrbIdle || s.EngineStatus != domain.EngineStatusReady {
		t.Fatalf("expected ready engine and idle orb, got %+v", s)
	}
}

func TestRedResultGoesToCrisisWithoutAssistantMessage(t *testing.T) {
	t.Parallel()

	r := newTestReducer(true)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "I don't want to be here anymore"}).State
	before := len(s.Messages)

	tr := mustReduce(t, r, s, LlmResult{Text: "Please reach out to a therapist right away.", RiskLevel: protocol.RiskRed})
	got := tr.State
	if got.Screen != domain.ScreenCrisis || got.PreviousScreen != domain.ScreenSession {
		t.Fatalf("expected crisis screen from session, got %s (prev %s)", got.Screen, got.PreviousScreen)
	}
	if len(got.Messages) != before {
		t.Fatalf("red result must not append a message")
	}
	if got.RiskLevel != domain.RiskHigh || got.TurnInFlight {
		t.Fatalf("expected high risk and no turn in flight, got %+v", got)
	}
	if _, ok := hasEffect[CancelTurnTimer](tr.Effects); !ok {
		t.Fatalf("expected turn timer to be cancelled")
	}
	if len(sentRequests(tr.Effects)) != 0 {
		t.Fatalf("crisis path must not contact the engine")
	}
}

func TestCrisisActionOverridesGreenRisk(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "hello"}).State

	got := mustReduce(t, r, s, LlmResult{Text: "", RiskLevel: protocol.RiskGreen, Actions: []string{"note", protocol.ActionCrisis}}).State
	if got.Screen != domain.ScreenCrisis || len(got.Messages) != len(s.Messages) {
		t.Fatalf("expected crisis without message, got %+v", got)
	}
}

func TestYellowResultRaisesRiskAndRendersText(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "it has been a rough week"}).State

	got := mustReduce(t, r, s, LlmResult{Text: "I hear that this is hard", RiskLevel: protocol.RiskYellow}).State
	if got.RiskLevel != domain.RiskMedium {
		t.Fatalf("expected medium risk, got %q", got.RiskLevel)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != domain.RoleAssistant || last.Text != "I hear that this is hard" {
		t.Fatalf("unexpected assistant message: %+v", last)
	}
	if !got.ShowRiskBanner() {
		t.Fatalf("expected risk banner")
	}

	dismissed := mustReduce(t, r, got, DismissRiskBanner{}).State
	if dismissed.ShowRiskBanner() || dismissed.RiskLevel != domain.RiskMedium {
		t.Fatalf("dismiss hides the banner but keeps the risk level")
	}
}

func TestAssistantTextIsSanitized(t *testing.T) {
	t.Parallel()

	r := newTestReducer(true)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "what should I do"}).State

	tr := mustReduce(t, r, s, LlmResult{Text: "I am a licensed therapist and recommend treatment", RiskLevel: protocol.RiskGreen})
	last := tr.State.Messages[len(tr.State.Messages)-1]
	if last.Text != safety.FallbackResponse {
		t.Fatalf("expected sanitized text, got %q", last.Text)
	}
	reqs := sentRequests(tr.Effects)
	if len(reqs) != 1 || reqs[0].Type != protocol.RequestTTS || reqs[0].Text != safety.FallbackResponse {
		t.Fatalf("expected tts of the sanitized text, got %+v", reqs)
	}
	if tr.State.OrbState != domain.OrbSpeaking || tr.State.TurnCount != 1 {
		t.Fatalf("expected speaking orb and one turn, got %+v", tr.State)
	}
}

func TestEmptyAssistantTextUsesFallbackPrompt(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "hi"}).State

	got := mustReduce(t, r, s, LlmResult{Text: "   ", RiskLevel: protocol.RiskGreen}).State
	last := got.Messages[len(got.Messages)-1]
	if last.Text != safety.FallbackPrompt {
		t.Fatalf("expected fallback prompt, got %q", last.Text)
	}
	if got.OrbState != domain.OrbIdle {
		t.Fatalf("expected idle orb without speech, got %s", got.OrbState)
	}
}

func TestDegenerateReplyRegeneratesOncePerTurn(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SetIntent{Intent: "Vent"}).State
	s = mustReduce(t, r, s, SendText{Text: "work was awful"}).State
	seq := s.TurnSeq
	count := len(s.Messages)

	first := mustReduce(t, r, s, LlmResult{Text: "I'm so sorry", RiskLevel: protocol.RiskGreen})
	if len(first.State.Messages) != count {
		t.Fatalf("degenerate reply must not be appended")
	}
	if !first.State.RegenUsed || !first.State.TurnInFlight || first.State.OrbState != domain.OrbThinking {
		t.Fatalf("expected regeneration in flight, got %+v", first.State)
	}
	reqs := sentRequests(first.Effects)
	if len(reqs) != 1 || reqs[0].Text != safety.AutoRegenPrompt || reqs[0].Intent != "Vent" {
		t.Fatalf("expected one regen request, got %+v", reqs)
	}
	if timer, ok := hasEffect[ArmTurnTimer](first.Effects); !ok || timer.Seq != seq {
		t.Fatalf("expected turn timer re-armed for seq %d", seq)
	}

	second := mustReduce(t, r, first.State, LlmResult{Text: "I'm so sorry", RiskLevel: protocol.RiskGreen})
	if len(second.State.Messages) != count+1 {
		t.Fatalf("second degenerate reply must be accepted")
	}
	if second.State.RegenUsed || second.State.TurnInFlight {
		t.Fatalf("accepted reply resets turn flags, got %+v", second.State)
	}
	if len(sentRequests(second.Effects)) != 0 {
		t.Fatalf("no further regeneration expected")
	}
}

func TestNewUserMessageResetsRegenFlag(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "first"}).State
	s = mustReduce(t, r, s, LlmResult{Text: "Im sorry"}).State
	if !s.RegenUsed {
		t.Fatalf("expected regen used")
	}
	s = mustReduce(t, r, s, LlmResult{Text: substantialReply}).State
	s = mustReduce(t, r, s, SendText{Text: "second"}).State
	if s.RegenUsed {
		t.Fatalf("new user message must reset regen flag")
	}
	tr := mustReduce(t, r, s, LlmResult{Text: "I'm sorry."})
	if len(sentRequests(tr.Effects)) != 1 {
		t.Fatalf("expected a fresh regeneration for the new turn")
	}
}

func TestRecordingTurn(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)

	tr := mustReduce(t, r, s, StartRecording{})
	if _, ok := hasEffect[StartRecorder](tr.Effects); !ok {
		t.Fatalf("expected recorder start effect")
	}
	s = tr.State
	if !s.Recording || s.OrbState != domain.OrbListening {
		t.Fatalf("expected listening, got %+v", s)
	}

	if err := r.Reduce(s, StartRecording{}).Err; !errors.Is(err, ErrRecordingInProgress) {
		t.Fatalf("expected ErrRecordingInProgress, got %v", err)
	}

	tr = mustReduce(t, r, s, StopRecording{})
	s = tr.State
	if s.Recording || s.OrbState != domain.OrbThinking || !s.TurnInFlight {
		t.Fatalf("expected thinking turn, got %+v", s)
	}
	if _, ok := hasEffect[StopRecorderAndTranscribe](tr.Effects); !ok {
		t.Fatalf("expected stop-and-transcribe effect")
	}
	if timer, ok := hasEffect[ArmTurnTimer](tr.Effects); !ok || timer.Seq != s.TurnSeq {
		t.Fatalf("expected timer for current turn")
	}

	if err := r.Reduce(s, StartRecording{}).Err; !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	s = mustReduce(t, r, s, AsrProcessing{}).State
	tr = mustReduce(t, r, s, AsrResult{Text: "I had a long day"})
	s = tr.State
	last := s.Messages[len(s.Messages)-1]
	if last.Role != domain.RoleUser || last.Text != "I had a long day" {
		t.Fatalf("unexpected user message: %+v", last)
	}
	reqs := sentRequests(tr.Effects)
	if len(reqs) != 1 || reqs[0].Type != protocol.RequestLLM || reqs[0].Text != "I had a long day" {
		t.Fatalf("expected llm request, got %+v", reqs)
	}
}

func TestBlankTranscriptReturnsToIdle(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, StartRecording{}).State
	s = mustReduce(t, r, s, StopRecording{}).State
	count := len(s.Messages)

	tr := mustReduce(t, r, s, AsrResult{Text: " \n\t"})
	if tr.State.OrbState != domain.OrbIdle || tr.State.TurnInFlight {
		t.Fatalf("expected idle with no turn, got %+v", tr.State)
	}
	if len(tr.State.Messages) != count || len(sentRequests(tr.Effects)) != 0 {
		t.Fatalf("blank transcript must not append or contact engine")
	}
	if _, ok := hasEffect[CancelTurnTimer](tr.Effects); !ok {
		t.Fatalf("expected timer cancellation")
	}
}

func TestRecordingGuards(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	loading := mustReduce(t, r, Initial(), Navigate{Screen: domain.ScreenSession}).State
	if err := r.Reduce(loading, StartRecording{}).Err; !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	s := readySession(t, r)
	if err := r.Reduce(s, StopRecording{}).Err; !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}

	s = mustReduce(t, r, s, StartRecording{}).State
	failed := mustReduce(t, r, s, RecordingFailed{Err: errors.New("no microphone")}).State
	if failed.Recording || failed.OrbState != domain.OrbIdle || failed.StatusMessage == "" {
		t.Fatalf("expected idle after failure, got %+v", failed)
	}
}

func TestSendTextGuards(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)

	if err := r.Reduce(s, SendText{Text: "   "}).Err; !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	inFlight := mustReduce(t, r, s, SendText{Text: "one"}).State
	tr := r.Reduce(inFlight, SendText{Text: "two"})
	if !errors.Is(tr.Err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", tr.Err)
	}
	if len(tr.State.Messages) != len(inFlight.Messages) || tr.Effects != nil {
		t.Fatalf("rejected action must leave state untouched")
	}

	loading := mustReduce(t, r, Initial(), Navigate{Screen: domain.ScreenSession}).State
	if err := r.Reduce(loading, SendText{Text: "hi"}).Err; !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestTurnTimeoutIgnoresStaleSequence(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "one"}).State
	staleSeq := s.TurnSeq
	s = mustReduce(t, r, s, LlmResult{Text: substantialReply}).State
	s = mustReduce(t, r, s, SendText{Text: "two"}).State

	stale := mustReduce(t, r, s, TurnTimedOut{Seq: staleSeq}).State
	if !stale.TurnInFlight || stale.OrbState != domain.OrbThinking {
		t.Fatalf("stale timeout must be ignored, got %+v", stale)
	}

	timedOut := mustReduce(t, r, s, TurnTimedOut{Seq: s.TurnSeq}).State
	if timedOut.TurnInFlight || timedOut.OrbState != domain.OrbIdle || timedOut.StatusMessage == "" {
		t.Fatalf("expected idle after timeout, got %+v", timedOut)
	}

	retry := mustReduce(t, r, timedOut, SendText{Text: "three"}).State
	if retry.StatusMessage != "" || !retry.TurnInFlight {
		t.Fatalf("new turn should clear timeout status, got %+v", retry)
	}
}

func TestTtsAndPlayback(t *testing.T) {
	t.Parallel()

	r := newTestReducer(true)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "hi"}).State
	s = mustReduce(t, r, s, LlmResult{Text: substantialReply}).State

	path := "/tmp/reply.wav"
	tr := mustReduce(t, r, s, TtsResult{Path: &path})
	play, ok := hasEffect[PlayAudio](tr.Effects)
	if !ok || play.Path != path || tr.State.OrbState != domain.OrbSpeaking {
		t.Fatalf("expected playback effect, got %+v", tr)
	}
	done := mustReduce(t, r, tr.State, PlaybackDone{Err: errors.New("device busy")}).State
	if done.OrbState != domain.OrbIdle {
		t.Fatalf("expected idle after failed playback, got %s", done.OrbState)
	}

	none := mustReduce(t, r, s, TtsResult{}).State
	if none.OrbState != domain.OrbIdle {
		t.Fatalf("nil path skips playback, got %s", none.OrbState)
	}
}

func TestGratitudeEligibility(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	for i := 0; i < 4; i++ {
		s = completeTurn(t, r, s, fmt.Sprintf("turn %d", i))
	}
	if GratitudeEligible(s) {
		t.Fatalf("four turns must not be eligible")
	}
	s = completeTurn(t, r, s, "turn 5")
	if s.TurnCount != 5 || !GratitudeEligible(s) {
		t.Fatalf("expected eligibility after five turns, got count %d", s.TurnCount)
	}

	thinking := mustReduce(t, r, s, SendText{Text: "more"}).State
	if GratitudeEligible(thinking) {
		t.Fatalf("not eligible while thinking")
	}
	high := s
	high.RiskLevel = domain.RiskHigh
	if GratitudeEligible(high) {
		t.Fatalf("not eligible at high risk")
	}

	declined := mustReduce(t, r, s, DeclineGratitude{}).State
	for i := 0; i < 3; i++ {
		declined = completeTurn(t, r, declined, "after decline")
	}
	if GratitudeEligible(declined) {
		t.Fatalf("declining must be permanent for the session")
	}

	tr := mustReduce(t, r, s, AcceptGratitude{Text: "  my morning coffee  "})
	save, ok := hasEffect[SaveJournal](tr.Effects)
	if !ok || save.Text != "my morning coffee" || GratitudeEligible(tr.State) {
		t.Fatalf("expected journal save and no further suggestion, got %+v", tr)
	}
	if err := r.Reduce(s, AcceptGratitude{Text: " "}).Err; !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestReturningToLandingResetsSession(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SetIntent{Intent: "Make a Plan"}).State
	s = mustReduce(t, r, s, SetInputMode{Mode: domain.InputText}).State
	for i := 0; i < 5; i++ {
		s = completeTurn(t, r, s, "something")
	}
	s = mustReduce(t, r, s, DeclineGratitude{}).State
	s = mustReduce(t, r, s, SendText{Text: "pending"}).State
	s = mustReduce(t, r, s, LlmResult{Text: "I'm sorry", RiskLevel: protocol.RiskYellow}).State
	s = mustReduce(t, r, s, RequestEndSession{}).State

	tr := mustReduce(t, r, s, Navigate{Screen: domain.ScreenLanding})
	got := tr.State
	if got.Screen != domain.ScreenLanding || len(got.Messages) != 0 || got.TurnCount != 0 {
		t.Fatalf("expected cleared conversation, got %+v", got)
	}
	if got.Intent != "" || got.RiskLevel != domain.RiskNone || got.GratitudeDeclined || got.RegenUsed || got.ShowReflection {
		t.Fatalf("expected cleared session flags, got %+v", got)
	}
	if got.EngineStatus != domain.EngineStatusReady || got.InputMode != domain.InputText {
		t.Fatalf("engine status and input mode survive a reset, got %+v", got)
	}
	if got.TurnInFlight {
		t.Fatalf("reset must clear the in-flight turn")
	}
	if _, ok := hasEffect[CancelTurnTimer](tr.Effects); !ok {
		t.Fatalf("expected pending timer to be cancelled")
	}

	fresh := mustReduce(t, r, got, Navigate{Screen: domain.ScreenSession}).State
	if len(fresh.Messages) != 1 {
		t.Fatalf("expected a freshly seeded session")
	}
}

func TestConfirmEndSessionSavesSteadyThing(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, StartRecording{}).State
	s = mustReduce(t, r, s, RequestEndSession{}).State
	if !s.ShowReflection {
		t.Fatalf("expected reflection modal")
	}
	if hidden := mustReduce(t, r, s, DismissReflection{}).State; hidden.ShowReflection {
		t.Fatalf("expected modal hidden")
	}

	tr := mustReduce(t, r, s, ConfirmEndSession{SteadyThing: " a walk outside "})
	if tr.State.Screen != domain.ScreenLanding || tr.State.Recording {
		t.Fatalf("expected landing with no recording, got %+v", tr.State)
	}
	save, ok := tr.Effects[0].(SaveJournal)
	if !ok || save.Text != "a walk outside" {
		t.Fatalf("expected journal save first, got %+v", tr.Effects)
	}
	if _, ok := hasEffect[DiscardRecording](tr.Effects); !ok {
		t.Fatalf("expected active recording to be discarded")
	}

	plain := mustReduce(t, r, readySession(t, r), ConfirmEndSession{})
	if _, ok := hasEffect[SaveJournal](plain.Effects); ok {
		t.Fatalf("blank steady thing must not be saved")
	}
}

func TestEngineLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "hello"}).State

	tr := mustReduce(t, r, s, EngineError{Message: "model failed to load"})
	s = tr.State
	if s.EngineStatus != domain.EngineStatusError || s.OrbState != domain.OrbDisabled || s.TurnInFlight {
		t.Fatalf("unexpected error state: %+v", s)
	}
	if _, ok := hasEffect[CancelTurnTimer](tr.Effects); !ok {
		t.Fatalf("expected timer cancellation on engine error")
	}

	if ignored := mustReduce(t, r, s, EngineReady{}).State; ignored.EngineStatus != domain.EngineStatusError {
		t.Fatalf("ready after error must be ignored without a restart")
	}

	tr = mustReduce(t, r, s, EngineRestarting{})
	if _, ok := hasEffect[RestartEngine](tr.Effects); !ok || tr.State.EngineStatus != domain.EngineStatusLoading {
		t.Fatalf("expected restart effect and loading status, got %+v", tr)
	}
	ready := mustReduce(t, r, tr.State, EngineReady{}).State
	if ready.EngineStatus != domain.EngineStatusReady || ready.OrbState != domain.OrbIdle || ready.StatusMessage != "" {
		t.Fatalf("expected ready after restart, got %+v", ready)
	}
}

func TestSelectRiskRoutesCheckIn(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := mustReduce(t, r, Initial(), Navigate{Screen: domain.ScreenCheckIn}).State

	low := mustReduce(t, r, s, SelectRisk{Level: domain.RiskLow}).State
	if low.Screen != domain.ScreenSession || low.RiskLevel != domain.RiskLow || len(low.Messages) != 1 {
		t.Fatalf("expected session with low risk, got %+v", low)
	}

	high := mustReduce(t, r, s, SelectRisk{Level: domain.RiskHigh}).State
	if high.Screen != domain.ScreenCrisis || high.PreviousScreen != domain.ScreenCheckIn {
		t.Fatalf("expected crisis from check-in, got %+v", high)
	}
	back := mustReduce(t, r, high, Back{}).State
	if back.Screen != domain.ScreenCheckIn {
		t.Fatalf("expected back to check-in, got %s", back.Screen)
	}

	if err := r.Reduce(s, SelectRisk{Level: "extreme"}).Err; !errors.Is(err, ErrInvalidRiskLevel) {
		t.Fatalf("expected ErrInvalidRiskLevel, got %v", err)
	}
}

func TestBackNavigation(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	s = completeTurn(t, r, s, "hello")

	gratitude := mustReduce(t, r, s, Navigate{Screen: domain.ScreenGratitude}).State
	back := mustReduce(t, r, gratitude, Back{}).State
	if back.Screen != domain.ScreenSession || len(back.Messages) != len(s.Messages) {
		t.Fatalf("expected session with history intact, got %+v", back)
	}

	modal := mustReduce(t, r, s, Back{}).State
	if modal.Screen != domain.ScreenSession || !modal.ShowReflection {
		t.Fatalf("back from session asks for reflection, got %+v", modal)
	}

	onboarding := mustReduce(t, r, Initial(), Navigate{Screen: domain.ScreenOnboarding}).State
	if landing := mustReduce(t, r, onboarding, Back{}).State; landing.Screen != domain.ScreenLanding {
		t.Fatalf("expected landing, got %s", landing.Screen)
	}

	if err := r.Reduce(s, Navigate{Screen: "settings"}).Err; !errors.Is(err, ErrInvalidScreen) {
		t.Fatalf("expected ErrInvalidScreen, got %v", err)
	}
}

func TestIntentAndInputMode(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)

	s = mustReduce(t, r, s, SetIntent{Intent: "Calm Down"}).State
	s = mustReduce(t, r, s, SetIntent{Intent: "Perspective"}).State
	if s.Intent != "Perspective" {
		t.Fatalf("intent is a single choice, got %q", s.Intent)
	}
	if err := r.Reduce(s, SetIntent{Intent: "Rant"}).Err; !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("expected ErrUnknownIntent, got %v", err)
	}
	tr := mustReduce(t, r, s, SendText{Text: "hi"})
	if reqs := sentRequests(tr.Effects); reqs[0].Intent != "Perspective" {
		t.Fatalf("expected intent forwarded, got %+v", reqs)
	}
	if cleared := mustReduce(t, r, s, SetIntent{}).State; cleared.Intent != "" {
		t.Fatalf("expected intent cleared")
	}

	toggled := mustReduce(t, r, s, ToggleInputMode{}).State
	if toggled.InputMode != domain.InputText {
		t.Fatalf("expected text mode")
	}
	if again := mustReduce(t, r, toggled, ToggleInputMode{}).State; again.InputMode != domain.InputVoice {
		t.Fatalf("expected voice mode")
	}
	if err := r.Reduce(s, SetInputMode{Mode: "gesture"}).Err; !errors.Is(err, ErrInvalidInputMode) {
		t.Fatalf("expected ErrInvalidInputMode, got %v", err)
	}
}

type unsupportedAction struct{}

func (unsupportedAction) isAction() {}

func TestUnknownActionIsRejected(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	if err := r.Reduce(Initial(), unsupportedAction{}).Err; !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestReduceDoesNotAliasMessages(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	a := mustReduce(t, r, s, SendText{Text: "branch a"}).State
	b := mustReduce(t, r, s, SendText{Text: "branch b"}).State
	if a.Messages[1].Text != "branch a" || b.Messages[1].Text != "branch b" {
		t.Fatalf("transitions from one state must not share message storage")
	}
}

func TestRecentTopics(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	long := strings.Repeat("a", 61)
	for _, text := range []string{"first", "second", "third", long} {
		s = completeTurn(t, r, s, text)
	}

	topics := RecentTopics(s)
	if len(topics) != 3 {
		t.Fatalf("expected three topics, got %v", topics)
	}
	if topics[0] != "second" || topics[1] != "third" {
		t.Fatalf("unexpected topics: %v", topics)
	}
	if topics[2] != strings.Repeat("a", 57)+"..." {
		t.Fatalf("unexpected truncation: %q", topics[2])
	}
	if exact := shorten(strings.Repeat("b", 60)); exact != strings.Repeat("b", 60) {
		t.Fatalf("sixty characters must not be truncated")
	}
	if got := RecentTopics(Initial()); len(got) != 0 {
		t.Fatalf("expected no topics, got %v", got)
	}

	snap := s.Snapshot()
	if len(snap.RecentTopics) != 3 || snap.GratitudeEligible {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRecordingPathTracksActiveRecording(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)

	ignored := mustReduce(t, r, s, RecordingStarted{Path: "/tmp/stray.wav"}).State
	if ignored.RecordingPath != "" {
		t.Fatalf("path without an active recording must be ignored")
	}

	s = mustReduce(t, r, s, StartRecording{}).State
	s = mustReduce(t, r, s, RecordingStarted{Path: "/tmp/a.wav"}).State
	if s.RecordingPath != "/tmp/a.wav" {
		t.Fatalf("expected recording path, got %q", s.RecordingPath)
	}
	stopped := mustReduce(t, r, s, StopRecording{}).State
	if stopped.RecordingPath != "/tmp/a.wav" {
		t.Fatalf("path stays visible while transcribing")
	}
	failed := mustReduce(t, r, stopped, RecordingFailed{}).State
	if failed.RecordingPath != "" || failed.StatusMessage != "" {
		t.Fatalf("failure without error clears the path quietly, got %+v", failed)
	}
}

func TestLateEngineOutputAfterEndingSessionIsDropped(t *testing.T) {
	t.Parallel()

	r := newTestReducer(true)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "I had a rough day"}).State
	s = mustReduce(t, r, s, ConfirmEndSession{}).State

	path := "/tmp/late.wav"
	for _, late := range []Action{
		LlmProcessing{},
		LlmResult{Text: substantialReply, RiskLevel: protocol.RiskGreen},
		LlmResult{Text: "", RiskLevel: protocol.RiskRed},
		AsrProcessing{},
		AsrResult{Text: "something from before"},
		TtsResult{Path: &path},
	} {
		tr := mustReduce(t, r, s, late)
		if len(tr.Effects) != 0 {
			t.Fatalf("%T after reset produced effects %+v", late, tr.Effects)
		}
		if len(tr.State.Messages) != 0 || tr.State.TurnCount != 0 || tr.State.Screen != domain.ScreenLanding {
			t.Fatalf("%T after reset changed the conversation: %+v", late, tr.State)
		}
		if tr.State.OrbState != domain.OrbIdle {
			t.Fatalf("%T after reset changed the orb to %s", late, tr.State.OrbState)
		}
		s = tr.State
	}

	fresh := mustReduce(t, r, s, Navigate{Screen: domain.ScreenSession}).State
	if len(fresh.Messages) != 1 || fresh.Messages[0].Text != DefaultIntro {
		t.Fatalf("expected only the intro in a new session, got %+v", fresh.Messages)
	}

	fresh = mustReduce(t, r, fresh, SendText{Text: "new conversation"}).State
	got := mustReduce(t, r, fresh, LlmResult{Text: substantialReply}).State
	if len(got.Messages) != 3 || got.TurnCount != 1 {
		t.Fatalf("expected replies to be accepted once a new turn starts, got %+v", got)
	}
}

func TestEngineOutputBeforeFirstTurnIsDropped(t *testing.T) {
	t.Parallel()

	r := newTestReducer(false)
	s := readySession(t, r)
	tr := mustReduce(t, r, s, AsrResult{Text: "stray transcript"})
	if len(tr.Effects) != 0 || len(tr.State.Messages) != len(s.Messages) {
		t.Fatalf("expected stray transcript to be ignored, got %+v", tr)
	}
}

func TestCrisisMatchingIgnoresCase(t *testing.T) {
	t.Parallel()

	cases := map[string]LlmResult{
		"upper risk":    {Text: "reach out", RiskLevel: "RED"},
		"padded risk":   {Text: "reach out", RiskLevel: " Red "},
		"mixed action":  {Text: "reach out", RiskLevel: protocol.RiskGreen, Actions: []string{"Crisis"}},
		"padded action": {Text: "reach out", Actions: []string{" CRISIS "}},
	}
	for name, result := range cases {
		result := result
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := newTestReducer(false)
			s := readySession(t, r)
			s = mustReduce(t, r, s, SendText{Text: "hello"}).State

			got := mustReduce(t, r, s, result).State
			if got.Screen != domain.ScreenCrisis || len(got.Messages) != len(s.Messages) {
				t.Fatalf("expected crisis without message, got %+v", got)
			}
		})
	}

	r := newTestReducer(false)
	s := readySession(t, r)
	s = mustReduce(t, r, s, SendText{Text: "hello"}).State
	got := mustReduce(t, r, s, LlmResult{Text: substantialReply, RiskLevel: "YELLOW"}).State
	if got.RiskLevel != domain.RiskMedium || !got.ShowRiskBanner() {
		t.Fatalf("expected uppercase yellow to raise risk, got %+v", got)
	}
}
