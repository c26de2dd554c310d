package dictation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/internal/history"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/vocab"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/buffered"
)

// vocabularyLimit caps the number of vocabulary terms handed to the engine
// prompt per session.
const vocabularyLimit = 50

// snapshotTimeout bounds the one helper round trip made at session creation.
// A slow or down helper degrades the session to context-less dictation
// instead of stalling the first frame indefinitely.
const snapshotTimeout = 2 * time.Second

// Orchestrator owns the map of in-flight dictation sessions and drives the
// pipeline: VAD gating, provider buffering, and the finalize/cancel protocol.
// It is safe for concurrent use.
type Orchestrator struct {
	provider Provider
	detector Detector

	settings      SettingsReader
	contextSource ContextSource
	formatter     Formatter
	phonetic      *vocab.Matcher
	store         history.Store
	metrics       *observe.Metrics
	log           *slog.Logger

	// vadMu guards the detector's recurrent state.
	vadMu sync.Mutex

	// txMu guards the session map, the provider's buffer, and
	// lastTranscription.
	txMu     sync.Mutex
	sessions map[string]*session
	lastText string
	hasLast  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings injects the settings reader. Default: empty static settings.
func WithSettings(s SettingsReader) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithContextSource injects the accessibility snapshot source. Without one,
// sessions run context-less.
func WithContextSource(cs ContextSource) Option {
	return func(o *Orchestrator) {
		o.contextSource = cs
	}
}

// WithFormatter injects the transcript formatter applied during finalize.
func WithFormatter(f Formatter) Option {
	return func(o *Orchestrator) {
		o.formatter = f
	}
}

// WithPhoneticMatcher enables the phonetic correction pass during finalize:
// near-miss recognitions of vocabulary terms ("grafanna") are aligned to the
// configured term ("Grafana") before formatting.
func WithPhoneticMatcher(m *vocab.Matcher) Option {
	return func(o *Orchestrator) {
		o.phonetic = m
	}
}

// WithHistory injects the store that persists finalized transcriptions.
func WithHistory(store history.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithMetrics injects the metrics instruments. Default: the package-level
// observe instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// New creates an Orchestrator over the given provider and shared detector.
func New(provider Provider, detector Detector, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("dictation: provider must not be nil")
	}
	if detector == nil {
		return nil, fmt.Errorf("dictation: detector must not be nil")
	}
	o := &Orchestrator{
		provider: provider,
		detector: detector,
		settings: staticSettings{},
		log:      slog.Default(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// ProcessChunk feeds one audio frame into the session identified by
// sessionID, creating the session on first contact. It returns the
// concatenation of all text accumulated in the session so far, for
// incremental display; the return value only grows when the provider's flush
// heuristic fired on this frame. A transcription failure is returned to the
// caller but leaves the session intact, so the next chunk can retry.
func (o *Orchestrator) ProcessChunk(ctx context.Context, sessionID string, frame audio.Frame) (string, error) {
	// VAD first, under its own mutex, never while holding the
	// transcription mutex. Frames that arrive with a probability already
	// attached skip the detector.
	if !frame.Empty() && frame.Probability < 0 {
		o.vadMu.Lock()
		res, err := o.detector.ProcessFrame(frame.Samples)
		o.vadMu.Unlock()
		if err != nil {
			return "", fmt.Errorf("dictation: vad: %w", err)
		}
		frame.Probability = res.Probability
	}

	o.txMu.Lock()
	defer o.txMu.Unlock()

	sess, ok := o.sessions[sessionID]
	if !ok {
		sess = o.newSession(ctx, sessionID)
		o.sessions[sessionID] = sess
		o.metrics.ActiveSessions.Add(ctx, 1)
	}

	text, err := o.provider.Transcribe(ctx, frame, sess.sctx)
	if err != nil {
		return "", fmt.Errorf("dictation: session %s: %w", sessionID, err)
	}
	if !frame.Empty() && sess.firstChunkAt.IsZero() {
		sess.firstChunkAt = time.Now()
	}
	sess.audioBuffered += frame.Duration()
	if text != "" {
		sess.chunks = append(sess.chunks, text)
		sess.sctx.AggregatedText = sess.aggregated()
	}
	return sess.aggregated(), nil
}

// newSession builds the per-session context: settings, vocabulary, and one
// accessibility snapshot. Helper failures degrade to a context-less session.
func (o *Orchestrator) newSession(ctx context.Context, sessionID string) *session {
	sess := &session{
		id:                 sessionID,
		state:              StateActive,
		recordingStartedAt: time.Now(),
		sctx: buffered.Context{
			Vocabulary: o.settings.Vocabulary(vocabularyLimit),
			Language:   o.settings.Language(),
		},
	}

	if o.contextSource != nil {
		snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		snap, err := o.contextSource.Snapshot(snapCtx)
		cancel()
		if err != nil {
			o.log.Warn("accessibility snapshot unavailable, starting context-less session",
				"session", sessionID, "error", err)
		} else {
			sess.hasCursorContext = true
			sess.focusedApp = snap.FocusedApp
			sess.sctx.TextBeforeCursor = snap.TextBeforeCursor
		}
	}

	o.log.Info("dictation session started",
		"session", sessionID, "language", sess.sctx.Language,
		"has_context", sess.hasCursorContext)
	return sess
}

// FinalizeSession runs the end-of-session protocol: flush the provider,
// correct the leading space, format, apply vocabulary replacements, persist,
// and remove the session. The session is removed unconditionally, success or
// partial failure; a flush or persistence error degrades the result rather
// than leaking the session. Finalizing an unknown session returns empty text.
func (o *Orchestrator) FinalizeSession(ctx context.Context, sessionID string) (string, error) {
	start := time.Now()
	ctx, span := observe.StartSessionSpan(ctx, "dictation.finalize", sessionID)
	defer span.End()

	o.txMu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.txMu.Unlock()
		o.log.Debug("finalize for unknown session", "session", sessionID)
		return "", nil
	}
	sess.state = StateFinalizing
	sess.recordingStoppedAt = start
	sess.finalizeAt = start

	text, err := o.provider.Flush(ctx, sess.sctx)
	if err != nil {
		// The flush text is lost but the accumulated chunks survive.
		o.log.Error("final flush failed, continuing with accumulated text",
			"session", sessionID, "error", err)
	} else if text != "" {
		sess.chunks = append(sess.chunks, text)
	}
	// Copy everything post-processing needs; the session stays in the map
	// until the end, and concurrent calls may still touch it.
	raw := sess.aggregated()
	textBeforeCursor := sess.sctx.TextBeforeCursor
	hasContext := sess.hasCursorContext
	language := sess.sctx.Language
	focusedApp := sess.focusedApp
	audioBuffered := sess.audioBuffered
	recordingSpan := sess.recordingStoppedAt.Sub(sess.recordingStartedAt)
	o.txMu.Unlock()

	// Post-processing runs outside the mutex; new sessions may start while
	// formatting is in flight.
	final := o.postProcess(ctx, sessionID, raw, textBeforeCursor, hasContext)

	if o.store != nil && final != "" {
		entry := history.Entry{
			SessionID:     sessionID,
			Text:          final,
			RawText:       raw,
			Language:      language,
			FocusedApp:    focusedApp,
			AudioDuration: audioBuffered,
			CreatedAt:     time.Now(),
		}
		if err := o.store.Save(ctx, entry); err != nil {
			o.log.Error("persisting transcription failed", "session", sessionID, "error", err)
		}
	}

	o.txMu.Lock()
	removed := false
	if cur, ok := o.sessions[sessionID]; ok && cur == sess {
		cur.state = StateCompleted
		delete(o.sessions, sessionID)
		removed = true
	}
	if final != "" {
		o.lastText = final
		o.hasLast = true
	}
	o.txMu.Unlock()
	if removed {
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
	o.metrics.FinalizeDuration.Record(ctx, time.Since(start).Seconds())

	o.log.Info("dictation session finalized",
		"session", sessionID, "duration", time.Since(start),
		"recording", recordingSpan, "audio", audioBuffered, "chars", len(final))
	return final, nil
}

// postProcess applies the leading-space correction, phonetic vocabulary
// alignment, optional formatting, and vocabulary replacement.
func (o *Orchestrator) postProcess(ctx context.Context, sessionID, text, textBeforeCursor string, hasContext bool) string {
	text = fixLeadingSpace(text, textBeforeCursor, hasContext)

	if o.phonetic != nil && text != "" {
		if terms := o.settings.Vocabulary(vocabularyLimit); len(terms) > 0 {
			corrected := o.phonetic.CorrectTokens(text, terms)
			// Token rejoining drops the leading space the correction above
			// decided to keep.
			if strings.HasPrefix(text, " ") && !strings.HasPrefix(corrected, " ") {
				corrected = " " + corrected
			}
			text = corrected
		}
	}

	if o.formatter != nil && text != "" {
		formatted, err := o.formatter.Format(ctx, text)
		if err != nil {
			o.metrics.FormatterFallbacks.Add(ctx, 1)
			o.log.Warn("formatting failed, keeping raw transcript",
				"session", sessionID, "error", err)
		} else {
			text = formatted
		}
	}

	if rules := o.settings.Replacements(); len(rules) > 0 {
		text = vocab.NewReplacer(rules).Apply(text)
	}
	return text
}

// CancelSession discards the session's buffered audio and removes it without
// any engine invocation or persistence. Cancelling an unknown or already
// cancelled session is a no-op.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID string) {
	o.txMu.Lock()
	defer o.txMu.Unlock()

	sess, ok := o.sessions[sessionID]
	if !ok {
		return
	}
	o.provider.Reset()
	sess.state = StateCancelled
	sess.recordingStoppedAt = time.Now()
	delete(o.sessions, sessionID)
	o.metrics.ActiveSessions.Add(ctx, -1)
	o.log.Info("dictation session cancelled", "session", sessionID,
		"recording", sess.recordingStoppedAt.Sub(sess.recordingStartedAt))
}

// LastTranscription returns the most recent finalized text. ok is false when
// no session has completed yet.
func (o *Orchestrator) LastTranscription() (text string, ok bool) {
	o.txMu.Lock()
	defer o.txMu.Unlock()
	return o.lastText, o.hasLast
}

// ActiveSessions returns the number of in-flight sessions.
func (o *Orchestrator) ActiveSessions() int {
	o.txMu.Lock()
	defer o.txMu.Unlock()
	return len(o.sessions)
}

// fixLeadingSpace strips the stray leading space Whisper-style engines emit,
// but only when it cannot be a needed separator: the text before the cursor
// must be known and either empty or already ending in ASCII whitespace. An
// unknown cursor context preserves the space.
func fixLeadingSpace(text, textBeforeCursor string, hasContext bool) string {
	if !strings.HasPrefix(text, " ") || !hasContext {
		return text
	}
	if textBeforeCursor == "" || endsInASCIIWhitespace(textBeforeCursor) {
		return text[1:]
	}
	return text
}

func endsInASCIIWhitespace(s string) bool {
	c := s[len(s)-1]
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
