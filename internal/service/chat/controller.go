// Package chat drives one streaming chat session: it validates and submits
// turns, folds server events into the in-flight answer and keeps the
// transcript with its feedback annotations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/llmbot-chat/internal/identity"
	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
	"github.com/zhouzirui/llmbot-chat/internal/model/settings"
	"github.com/zhouzirui/llmbot-chat/internal/preferences"
	"github.com/zhouzirui/llmbot-chat/internal/transport"
)

const (
	DefaultWelcomeMessage  = "Hello, I am your AI assistant. How can I help you today?"
	DefaultTurnTimeout     = 5 * time.Minute
	DefaultFeedbackTimeout = 10 * time.Second
)

// Connectivity labels shown by renderers.
const (
	ConnectionPending = "pending"
	ConnectionLoading = "loading"
	ConnectionSuccess = "success"
	ConnectionClosing = "closing"
	ConnectionError   = "error"
)

// Transport is the persistent connection turns are submitted over.
type Transport interface {
	Send(text string) error
	State() transport.State
}

// Backend is the REST surface for history, assistant profiles and feedback.
type Backend interface {
	SessionHistory(ctx context.Context, sessionID string) ([]chat.HistoryMessage, error)
	ListChatbots(ctx context.Context) ([]string, error)
	SubmitFeedback(ctx context.Context, fb chat.Feedback) error
}

// Options tune a Controller. Zero values fall back to defaults except
// TurnTimeout, where zero disables the timeout.
type Options struct {
	Identity        identity.Identity
	WelcomeMessage  string
	TurnTimeout     time.Duration
	FeedbackTimeout time.Duration
	Logger          *zap.Logger
	NewSessionID    func() string
	Now             func() time.Time
}

// Controller owns the session state. Every mutation happens under mu, so
// frames, user actions, connectivity changes and timer expiry are handled
// one at a time and each runs to completion.
type Controller struct {
	transport Transport
	backend   Backend
	prefs     preferences.Store
	opts      Options
	logger    *zap.Logger

	loadSettings sync.Once
	feedback     sync.WaitGroup

	mu               sync.Mutex
	epoch            uint64
	sessionID        string
	transcript       *Transcript
	turn             Turn
	turnSeq          uint64
	timer            *time.Timer
	settings         settings.Settings
	fieldErrors      map[settings.Field]string
	settingsExpanded bool
	loadingHistory   bool
	connection       string
	chatbots         []string
	chatbotSeq       uint64
	notice           string
	subs             map[int]chan struct{}
	nextSub          int
}

// NewController wires a controller. Call Start before submitting turns.
func NewController(t Transport, b Backend, prefs preferences.Store, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WelcomeMessage == "" {
		opts.WelcomeMessage = DefaultWelcomeMessage
	}
	if opts.FeedbackTimeout <= 0 {
		opts.FeedbackTimeout = DefaultFeedbackTimeout
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Identity.UserID == "" {
		opts.Identity.UserID = identity.DefaultUserID
	}
	if prefs == nil {
		prefs = preferences.NewMemoryStore()
	}

	return &Controller{
		transport:   t,
		backend:     b,
		prefs:       prefs,
		opts:        opts,
		logger:      opts.Logger.Named("session"),
		transcript:  NewTranscript(),
		settings:    settings.Defaults(),
		fieldErrors: make(map[settings.Field]string),
		connection:  ConnectionPending,
		subs:        make(map[int]chan struct{}),
	}
}

// Start opens a session. With an empty resumeID a fresh session is seeded
// with the welcome message; otherwise the stored history of resumeID is
// loaded and nothing is submitted until the user types. A failed history
// load leaves an empty transcript and is returned wrapped in ErrHistoryLoad.
func (c *Controller) Start(ctx context.Context, resumeID string) error {
	c.loadSettings.Do(func() {
		s := c.readSettings(ctx)
		c.mu.Lock()
		c.settings = s
		c.mu.Unlock()
	})

	resumeID = strings.TrimSpace(resumeID)
	c.mu.Lock()
	var epoch uint64
	if resumeID == "" {
		epoch = c.resetLocked(c.opts.NewSessionID(), c.welcome())
	} else {
		epoch = c.resetLocked(resumeID, nil)
		c.loadingHistory = true
	}
	c.notifyLocked()
	c.mu.Unlock()

	c.refreshChatbots(ctx)
	if resumeID == "" {
		return nil
	}
	return c.loadHistory(ctx, epoch, resumeID)
}

// NewChat abandons the current session, including any in-flight turn, and
// starts a fresh one.
func (c *Controller) NewChat(ctx context.Context) string {
	c.mu.Lock()
	sessionID := c.opts.NewSessionID()
	c.resetLocked(sessionID, c.welcome())
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("new chat", zap.String("session_id", sessionID))
	c.refreshChatbots(ctx)
	return sessionID
}

// Submit validates query against the current state and settings and, when
// every rule passes, sends the turn and records the human message.
func (c *Controller) Submit(query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return ErrNoActiveSession
	}
	// ReplaceAll at the end of the load would drop anything appended now.
	if c.loadingHistory {
		c.rejectLocked(ErrHistoryLoading)
		return ErrHistoryLoading
	}

	params, err := validate(submission{
		turnActive: c.turn.Active(),
		query:      query,
		connected:  c.transport.State() == transport.StateOpen,
		settings:   c.settings,
	})
	if err != nil {
		c.rejectLocked(err)
		return err
	}

	req, err := buildRequest(query, c.sessionID, c.opts.Identity, c.settings, params)
	if err != nil {
		return err
	}
	frame, err := encodeRequest(req)
	if err != nil {
		return err
	}
	if err := c.transport.Send(frame); err != nil {
		err = fmt.Errorf("%w: %v", ErrNotConnected, err)
		c.rejectLocked(err)
		return err
	}

	c.transcript.Append(chat.Message{Role: chat.RoleHuman, Content: query})
	if err := c.turn.Start(c.opts.Now()); err != nil {
		return err
	}
	c.turnSeq++
	c.armTimeoutLocked(c.turnSeq)
	clear(c.fieldErrors)
	c.notice = ""
	c.notifyLocked()

	c.logger.Debug("turn submitted",
		zap.String("session_id", c.sessionID),
		zap.String("entry_type", req.EntryType),
		zap.String("model", c.settings.ModelID),
	)
	return nil
}

// HandleFrame classifies one inbound frame and applies it to the in-flight
// turn. Malformed frames and unknown kinds are dropped; frames arriving
// while no turn is active change nothing.
func (c *Controller) HandleFrame(frame []byte) {
	ev, err := Classify(frame)
	if err != nil {
		c.logger.Warn("discarding frame", zap.Error(err))
		return
	}
	if !ev.Kind.Known() {
		c.logger.Debug("ignoring frame", zap.String("message_type", string(ev.Kind)))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.turn.Active() {
		c.logger.Debug("frame outside turn", zap.String("message_type", string(ev.Kind)))
		return
	}
	if ev.Kind == chat.EventStart {
		c.logger.Debug("turn acknowledged", zap.String("session_id", c.sessionID))
		return
	}

	msg, done := c.turn.Apply(ev)
	if done {
		c.stopTimerLocked()
		c.transcript.Append(msg)
		c.logger.Debug("turn finished", zap.String("message_id", msg.ID))
	}
	c.notifyLocked()
}

// HandleState records a connectivity change. A reconnect never cancels
// the in-flight turn.
func (c *Controller) HandleState(state transport.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connection = connectionLabel(state)
	c.notifyLocked()
}

// Rate toggles verdict on the message at index and notifies the backend in
// the background. The local toggle stands even if the notification fails.
func (c *Controller) Rate(index int, verdict chat.Verdict) (chat.Verdict, error) {
	if verdict == chat.VerdictNone || !verdict.Valid() {
		return chat.VerdictNone, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}

	c.mu.Lock()
	msg, ok := c.transcript.At(index)
	if !ok {
		c.mu.Unlock()
		return chat.VerdictNone, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if !rateable(msg) {
		c.mu.Unlock()
		return chat.VerdictNone, fmt.Errorf("%w: %d", ErrNotRateable, index)
	}
	next, err := c.transcript.SetFeedback(index, verdict)
	if err != nil {
		c.mu.Unlock()
		return chat.VerdictNone, err
	}
	fb := chat.Feedback{SessionID: c.sessionID, MessageID: msg.ID, FeedbackType: next}
	c.notifyLocked()
	c.mu.Unlock()

	c.submitFeedback(fb)
	return next, nil
}

func (c *Controller) submitFeedback(fb chat.Feedback) {
	c.feedback.Add(1)
	go func() {
		defer c.feedback.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.FeedbackTimeout)
		defer cancel()
		if err := c.backend.SubmitFeedback(ctx, fb); err != nil {
			c.logger.Warn("feedback not delivered",
				zap.String("session_id", fb.SessionID),
				zap.String("message_id", fb.MessageID),
				zap.Error(err),
			)
		}
	}()
}

// UpdateSettings edits the turn configuration. Fields that changed lose
// their error marker and are written back to the preferences store.
func (c *Controller) UpdateSettings(ctx context.Context, edit func(*settings.Settings)) error {
	c.mu.Lock()
	next := c.settings
	edit(&next)
	if next.Scenario != c.settings.Scenario && strings.TrimSpace(next.ModelID) == "" {
		next.ModelID = firstModel(next.Scenario)
	}
	keys := c.settings.Changed(next)
	c.settings = next
	for _, key := range keys {
		if field, ok := settings.FieldForKey(key); ok {
			delete(c.fieldErrors, field)
		}
	}
	if len(keys) > 0 {
		c.notifyLocked()
	}
	values := next.Values()
	c.mu.Unlock()

	return c.persist(ctx, keys, values)
}

// ExpandSettings shows or hides the settings panel.
func (c *Controller) ExpandSettings(expanded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settingsExpanded != expanded {
		c.settingsExpanded = expanded
		c.notifyLocked()
	}
}

// Settings returns the current turn configuration.
func (c *Controller) Settings() settings.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SessionID returns the active session identifier.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe registers for change notifications. Notifications coalesce:
// a slow reader sees at least one signal after the latest change, never a
// backlog. The returned function unregisters.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close stops the turn timer and waits for pending feedback notifications.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.feedback.Wait()
}

func (c *Controller) resetLocked(sessionID string, messages []chat.Message) uint64 {
	c.epoch++
	c.sessionID = sessionID
	c.stopTimerLocked()
	c.turn.Reset()
	c.transcript.ReplaceAll(messages)
	c.loadingHistory = false
	c.notice = ""
	return c.epoch
}

func (c *Controller) welcome() []chat.Message {
	return []chat.Message{{Role: chat.RoleAI, Content: c.opts.WelcomeMessage}}
}

func (c *Controller) rejectLocked(err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.fieldErrors[verr.Field] = verr.Code
		c.settingsExpanded = true
		c.notice = ""
	case errors.Is(err, ErrEmptyQuery):
		c.fieldErrors[settings.FieldQuery] = CodeRequireQuery
		c.notice = ""
	default:
		c.notice = err.Error()
	}
	c.notifyLocked()
}

func (c *Controller) armTimeoutLocked(seq uint64) {
	c.stopTimerLocked()
	if c.opts.TurnTimeout <= 0 {
		return
	}
	c.timer = time.AfterFunc(c.opts.TurnTimeout, func() { c.expireTurn(seq) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// expireTurn discards a turn that never finished. A late END for it then
// arrives while idle and is ignored.
func (c *Controller) expireTurn(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.turn.Active() || c.turnSeq != seq {
		return
	}
	c.logger.Warn("turn timed out",
		zap.String("session_id", c.sessionID),
		zap.Duration("timeout", c.opts.TurnTimeout),
	)
	c.turn.Reset()
	c.timer = nil
	c.notice = ErrTurnTimedOut.Error()
	c.notifyLocked()
}

func (c *Controller) loadHistory(ctx context.Context, epoch uint64, sessionID string) error {
	history, err := c.backend.SessionHistory(ctx, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil
	}
	c.loadingHistory = false
	if err != nil {
		c.logger.Warn("load history failed", zap.String("session_id", sessionID), zap.Error(err))
		c.transcript.ReplaceAll(nil)
		c.notice = ErrHistoryLoad.Error()
		c.notifyLocked()
		return fmt.Errorf("%w: %v", ErrHistoryLoad, err)
	}
	c.transcript.ReplaceAll(FromHistory(history))
	c.notice = ""
	c.notifyLocked()
	return nil
}

// refreshChatbots reloads the assistant profiles and revalidates the
// selection, falling back to the first available profile.
func (c *Controller) refreshChatbots(ctx context.Context) {
	c.mu.Lock()
	c.chatbotSeq++
	seq := c.chatbotSeq
	c.mu.Unlock()

	ids, err := c.backend.ListChatbots(ctx)
	if err != nil {
		c.logger.Warn("list chatbots failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	if seq != c.chatbotSeq {
		c.mu.Unlock()
		return
	}
	c.chatbots = append([]string(nil), ids...)
	selected := c.settings.ChatbotID
	if len(ids) > 0 && !slices.Contains(ids, selected) {
		selected = ids[0]
	}
	changed := selected != c.settings.ChatbotID
	c.settings.ChatbotID = selected
	c.notifyLocked()
	c.mu.Unlock()

	if changed {
		_ = c.persist(ctx, []string{settings.KeyChatbot}, map[string]string{settings.KeyChatbot: selected})
	}
}

// readSettings restores the persisted configuration on top of the defaults.
func (c *Controller) readSettings(ctx context.Context) settings.Settings {
	s := settings.Defaults()
	for _, key := range settings.Keys() {
		value, ok, err := c.prefs.Get(ctx, key)
		if err != nil {
			c.logger.Warn("read preference failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			s.Apply(key, value)
		}
	}
	if strings.TrimSpace(s.ModelID) == "" {
		s.ModelID = firstModel(s.Scenario)
	}
	return s
}

// persist writes changed keys. Empty values are not written, so clearing a
// field does not erase what the next session starts from.
func (c *Controller) persist(ctx context.Context, keys []string, values map[string]string) error {
	var errs []error
	for _, key := range keys {
		value := values[key]
		if value == "" {
			continue
		}
		if err := c.prefs.Set(ctx, key, value); err != nil {
			c.logger.Warn("write preference failed", zap.String("key", key), zap.Error(err))
			errs = append(errs, fmt.Errorf("persist %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) notifyLocked() {
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func rateable(msg chat.Message) bool {
	return msg.Role == chat.RoleAI && msg.ID != ""
}

func firstModel(scenario string) string {
	if models := settings.Models(scenario); len(models) > 0 {
		return models[0]
	}
	return ""
}

func connectionLabel(state transport.State) string {
	switch state {
	case transport.StateConnecting:
		return ConnectionLoading
	case transport.StateOpen:
		return ConnectionSuccess
	case transport.StateClosing:
		return ConnectionClosing
	case transport.StateClosed:
		return ConnectionError
	default:
		return ConnectionPending
	}
}
