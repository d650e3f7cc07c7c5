package call

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/transport"
	"github.com/voicebridge/voicebridge/internal/turn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream is an in-memory FrameStream driven by the test.
type fakeStream struct {
	in        chan []byte
	mu        sync.Mutex
	written   int
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) ReadFrame() ([]byte, error) {
	select {
	case p := <-f.in:
		return p, nil
	case <-f.closed:
		return nil, transport.ErrStreamClosed
	}
}

func (f *fakeStream) WriteFrame(ulaw []byte) error {
	select {
	case <-f.closed:
		return transport.ErrStreamClosed
	default:
	}
	f.mu.Lock()
	f.written++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) writtenFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.text, f.err
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	// One output frame's worth of audio keeps pacing fast in tests.
	return make([]int16, 2*audio.SamplesPerFrame), nil
}

func (f *fakeSynthesizer) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeResponder struct {
	mu       sync.Mutex
	received []string
	reply    string
	err      error
}

func (f *fakeResponder) Respond(ctx context.Context, conversationID, text string) (string, error) {
	f.mu.Lock()
	f.received = append(f.received, text)
	f.mu.Unlock()
	return f.reply, f.err
}

func testConfig() Config {
	return Config{
		MaxDuration:          10 * time.Second,
		InactivityTimeout:    10 * time.Second,
		MaxInactivityPrompts: 2,
		Turn: turn.Config{
			MinSpeech:       40 * time.Millisecond,
			EndpointSilence: 40 * time.Millisecond,
			EnergyFloor:     0.01,
		},
	}
}

// speechPayload is one 20 ms frame of loud µ-law audio.
func speechPayload() []byte {
	pcm := make([]int16, audio.SamplesPerFrame)
	for i := range pcm {
		pcm[i] = 4000
	}
	return audio.EncodeULaw(pcm)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestSession(cfg Config, tr *fakeTranscriber, sy *fakeSynthesizer, re *fakeResponder) *Session {
	return NewSession("CA123", transport.ProviderTwilio, "+15551234567", "+15559876543",
		DefaultContext(), tr, sy, re, cfg, testLogger())
}

func TestSessionConversationTurn(t *testing.T) {
	tr := &fakeTranscriber{text: "what are your opening hours"}
	sy := &fakeSynthesizer{}
	re := &fakeResponder{reply: "We are open nine to five."}
	s := newTestSession(testConfig(), tr, sy, re)

	var summary Summary
	done := make(chan struct{})
	s.OnTerminated = func(sum Summary) {
		summary = sum
		close(done)
	}

	stream := newFakeStream()
	go s.Run(context.Background(), stream)

	waitFor(t, 2*time.Second, func() bool { return s.State() == StateActive }, "session never became active")

	// Three speech frames, then silence; the endpoint fires on the poll.
	for i := 0; i < 3; i++ {
		stream.in <- speechPayload()
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, text := range sy.spoken() {
			if text == re.reply {
				return true
			}
		}
		return false
	}, "reply was never synthesized")

	spoken := sy.spoken()
	if spoken[0] != DefaultWelcomeMessage {
		t.Errorf("expected welcome message first, got %q", spoken[0])
	}

	re.mu.Lock()
	got := append([]string(nil), re.received...)
	re.mu.Unlock()
	if len(got) == 0 || got[0] != tr.text {
		t.Errorf("responder received %v, expected %q", got, tr.text)
	}

	stream.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session never terminated after stream close")
	}

	if summary.Reason != HangupCaller {
		t.Errorf("expected caller hangup, got %s", summary.Reason)
	}
	if s.State() != StateTerminated {
		t.Errorf("expected terminated state, got %s", s.State())
	}
	if len(summary.Transcript) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(summary.Transcript))
	}
	if summary.Transcript[0].Role != "user" || summary.Transcript[1].Role != "assistant" {
		t.Errorf("unexpected transcript roles: %+v", summary.Transcript)
	}
	if stream.writtenFrames() == 0 {
		t.Error("no audio frames were written to the stream")
	}
}

func TestSessionApologyOnBackendFailure(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	sy := &fakeSynthesizer{}
	re := &fakeResponder{err: errors.New("backend down")}
	s := newTestSession(testConfig(), tr, sy, re)

	stream := newFakeStream()
	go s.Run(context.Background(), stream)
	defer s.Hangup(HangupOperator)

	for i := 0; i < 3; i++ {
		stream.in <- speechPayload()
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, text := range sy.spoken() {
			if text == DefaultApologyMessage {
				return true
			}
		}
		return false
	}, "apology was never spoken")
}

func TestSessionDurationCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDuration = 150 * time.Millisecond

	sy := &fakeSynthesizer{}
	s := newTestSession(cfg, &fakeTranscriber{}, sy, &fakeResponder{})

	var summary Summary
	done := make(chan struct{})
	s.OnTerminated = func(sum Summary) {
		summary = sum
		close(done)
	}

	go s.Run(context.Background(), newFakeStream())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("duration cap never fired")
	}

	if summary.Reason != HangupDurationCap {
		t.Errorf("expected duration-cap reason, got %s", summary.Reason)
	}
	var sawClosing bool
	for _, text := range sy.spoken() {
		if text == DefaultClosingMessage {
			sawClosing = true
		}
	}
	if !sawClosing {
		t.Error("closing message was never spoken before hangup")
	}
}

func TestSessionInactivityPromptsThenHangup(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 150 * time.Millisecond
	cfg.MaxInactivityPrompts = 1

	sy := &fakeSynthesizer{}
	s := newTestSession(cfg, &fakeTranscriber{}, sy, &fakeResponder{})

	var summary Summary
	done := make(chan struct{})
	s.OnTerminated = func(sum Summary) {
		summary = sum
		close(done)
	}

	go s.Run(context.Background(), newFakeStream())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("inactivity hangup never fired")
	}

	if summary.Reason != HangupInactivity {
		t.Errorf("expected inactivity reason, got %s", summary.Reason)
	}
	var sawPrompt bool
	for _, text := range sy.spoken() {
		if text == DefaultInactivityPrompt {
			sawPrompt = true
		}
	}
	if !sawPrompt {
		t.Error("inactivity prompt was never spoken")
	}
}

func TestSessionCleanupRunsOnce(t *testing.T) {
	s := newTestSession(testConfig(), &fakeTranscriber{}, &fakeSynthesizer{}, &fakeResponder{})

	var terminations atomic.Int32
	s.OnTerminated = func(Summary) { terminations.Add(1) }

	stream := newFakeStream()
	runDone := make(chan struct{})
	go func() {
		s.Run(context.Background(), stream)
		close(runDone)
	}()

	waitFor(t, 2*time.Second, func() bool { return s.State() == StateActive }, "session never became active")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Hangup(HangupOperator)
		}()
	}
	stream.Close()
	wg.Wait()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned")
	}

	if got := terminations.Load(); got != 1 {
		t.Errorf("cleanup ran %d times, expected exactly once", got)
	}
}

func TestSessionPendingTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PendingTimeout = 100 * time.Millisecond

	s := newTestSession(cfg, &fakeTranscriber{}, &fakeSynthesizer{}, &fakeResponder{})

	var summary Summary
	done := make(chan struct{})
	s.OnTerminated = func(sum Summary) {
		summary = sum
		close(done)
	}

	// No media stream ever attaches.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pending session was never abandoned")
	}

	if summary.Reason != HangupNoMedia {
		t.Errorf("expected no-media reason, got %s", summary.Reason)
	}
	if s.State() != StateTerminated {
		t.Errorf("expected terminated state, got %s", s.State())
	}
	if err := s.Run(context.Background(), newFakeStream()); !errors.Is(err, ErrBadState) {
		t.Errorf("expected ErrBadState from Run after abandonment, got %v", err)
	}
}

func TestSessionPendingTimerStopsOnRun(t *testing.T) {
	cfg := testConfig()
	cfg.PendingTimeout = 100 * time.Millisecond

	s := newTestSession(cfg, &fakeTranscriber{}, &fakeSynthesizer{}, &fakeResponder{})

	stream := newFakeStream()
	go s.Run(context.Background(), stream)
	defer s.Hangup(HangupOperator)

	waitFor(t, 2*time.Second, func() bool { return s.State() == StateActive }, "session never became active")

	time.Sleep(250 * time.Millisecond)
	if s.State() != StateActive {
		t.Errorf("pending timer fired on a live call, state %s", s.State())
	}
}

func TestSessionTrailingUtteranceTranscribed(t *testing.T) {
	tr := &fakeTranscriber{text: "thanks bye"}
	s := newTestSession(testConfig(), tr, &fakeSynthesizer{}, &fakeResponder{reply: "ok"})

	var summary Summary
	done := make(chan struct{})
	s.OnTerminated = func(sum Summary) {
		summary = sum
		close(done)
	}

	stream := newFakeStream()
	go s.Run(context.Background(), stream)

	waitFor(t, 2*time.Second, func() bool { return s.State() == StateActive }, "session never became active")

	// Enough speech to clear the minimum, then hang up before the
	// trailing-silence endpoint can fire.
	for i := 0; i < 3; i++ {
		stream.in <- speechPayload()
	}
	waitFor(t, 2*time.Second, func() bool {
		s.detMu.Lock()
		active := s.detector.ActiveDuration()
		s.detMu.Unlock()
		if active >= 3*audio.FrameDuration {
			return true
		}
		// The watchdog may have already endpointed the speech; that path
		// transcribes it too.
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.calls > 0
	}, "speech frames were never ingested")

	stream.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session never terminated")
	}

	var sawUser bool
	for _, e := range summary.Transcript {
		if e.Role == "user" && e.Text == tr.text {
			sawUser = true
		}
	}
	if !sawUser {
		t.Errorf("trailing speech missing from transcript: %+v", summary.Transcript)
	}
}

func TestEnqueueReplyDropsWhenQueueFull(t *testing.T) {
	s := newTestSession(testConfig(), &fakeTranscriber{}, &fakeSynthesizer{}, &fakeResponder{})

	for i := 0; i < cap(s.replies); i++ {
		s.replies <- reply{text: "queued"}
	}

	done := make(chan struct{})
	go func() {
		s.enqueueReply(reply{text: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("enqueue blocked on a full synthesis queue")
	}
	if got := len(s.replies); got != cap(s.replies) {
		t.Errorf("queue length changed to %d, expected %d", got, cap(s.replies))
	}
}

func TestSessionConcurrentRunAndHangup(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := newTestSession(testConfig(), &fakeTranscriber{}, &fakeSynthesizer{}, &fakeResponder{})
		stream := newFakeStream()

		go s.Run(context.Background(), stream)
		go s.Hangup(HangupShutdown)

		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: session never terminated", i)
		}
		if s.State() != StateTerminated {
			t.Fatalf("iteration %d: expected terminated state, got %s", i, s.State())
		}
	}
}

func TestSessionHangupBeforeRun(t *testing.T) {
	s := newTestSession(testConfig(), &fakeTranscriber{}, &fakeSynthesizer{}, &fakeResponder{})

	var terminations atomic.Int32
	s.OnTerminated = func(Summary) { terminations.Add(1) }

	s.Hangup(HangupShutdown)

	if s.State() != StateTerminated {
		t.Errorf("expected terminated, got %s", s.State())
	}
	if terminations.Load() != 1 {
		t.Error("cleanup did not run for a pending session")
	}
	if err := s.Run(context.Background(), newFakeStream()); !errors.Is(err, ErrBadState) {
		t.Errorf("expected ErrBadState from Run after termination, got %v", err)
	}
}
