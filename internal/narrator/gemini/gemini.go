// Package gemini runs the narrator on a Gemini chat session with function
// calling.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/samdwyer/storyband/internal/narrator"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/toolcall"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-pro"

// ErrEmptyResponse indicates the model returned no candidate content.
var ErrEmptyResponse = errors.New("model returned no content")

const eventBuffer = 32

// Config selects the model and its instructions.
type Config struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// chat is the part of *genai.ChatSession the narrator uses.
type chat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Narrator is a Session backed by a Gemini chat.
type Narrator struct {
	client  *genai.Client
	chat    chat
	decoder *toolcall.Decoder
	logger  *slog.Logger
	tracer  trace.Tracer
	newID   func() string

	events chan narrator.Event
	inbox  *narrator.Inbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	closed  bool
	waiting map[string]bool
}

var _ narrator.Session = (*Narrator)(nil)

// Option configures a Narrator.
type Option func(*Narrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Narrator) { n.logger = logger }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(n *Narrator) { n.tracer = tracer }
}

// WithIDs replaces the call id generator. Gemini does not id its calls, so
// the narrator assigns one per call.
func WithIDs(newID func() string) Option {
	return func(n *Narrator) { n.newID = newID }
}

// New connects to Gemini and starts a chat whose tools match decoder's shape.
func New(ctx context.Context, cfg Config, decoder *toolcall.Decoder, opts ...Option) (*Narrator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	name := cfg.Model
	if name == "" {
		name = DefaultModel
	}
	model := client.GenerativeModel(name)
	if cfg.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(cfg.SystemPrompt)}}
	}
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: FunctionDeclarations(toolcall.Declarations(decoder.Shape())),
	}}

	n := newNarrator(model.StartChat(), decoder, opts...)
	n.client = client
	n.logger = n.logger.With("model", name)
	return n, nil
}

func newNarrator(c chat, decoder *toolcall.Decoder, opts ...Option) *Narrator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Narrator{
		chat:    c,
		decoder: decoder,
		logger:  slog.Default(),
		tracer:  telemetry.Tracer("narrator"),
		newID:   uuid.NewString,
		events:  make(chan narrator.Event, eventBuffer),
		inbox:   narrator.NewInbox(),
		ctx:     ctx,
		cancel:  cancel,
		waiting: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "narrator", "narrator", "gemini")
	return n
}

// Send starts a turn with a player message. The turn ends with an
// EventTurnEnd, or with an EventError if the model could not be reached.
func (n *Narrator) Send(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return narrator.ErrClosed
	}
	if n.running {
		return narrator.ErrTurnInProgress
	}
	n.running = true
	n.wg.Add(1)
	n.logger.DebugContext(ctx, "turn started", "message_len", len(message))
	go n.run(message)
	return nil
}

// Events returns the event stream. It is closed by Close.
func (n *Narrator) Events() <-chan narrator.Event {
	return n.events
}

// Post delivers the result for one of the model's calls.
func (n *Narrator) Post(_ context.Context, result toolcall.Result) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return narrator.ErrClosed
	}
	if !n.waiting[result.CallID] {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", narrator.ErrUnexpectedResult, result.CallID)
	}
	delete(n.waiting, result.CallID)
	n.mu.Unlock()

	n.inbox.Put(result)
	return nil
}

// Close stops any running turn, closes the event stream and the client.
func (n *Narrator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
	close(n.events)
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}

// pendingCall is a model call awaiting its result.
type pendingCall struct {
	id   string
	name string
}

func (n *Narrator) run(message string) {
	defer n.wg.Done()

	ctx, span := n.tracer.Start(n.ctx, "gemini.turn")
	defer span.End()

	parts := []genai.Part{genai.Text(message)}
	for round := 0; ; round++ {
		span.SetAttributes(attribute.Int("rounds", round+1))

		resp, err := n.chat.SendMessage(ctx, parts...)
		if err == nil && !hasContent(resp) {
			err = ErrEmptyResponse
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			n.logger.ErrorContext(ctx, "model request failed", "error", err, "round", round)
			n.drop()
			n.finish()
			n.emit(narrator.Event{Kind: narrator.EventError, Err: fmt.Errorf("send message: %w", err)})
			return
		}

		texts, calls := splitParts(resp.Candidates[0].Content.Parts)
		for _, text := range texts {
			if !n.emit(narrator.Event{Kind: narrator.EventText, Text: text}) {
				n.finish()
				return
			}
		}
		if len(calls) == 0 {
			n.finish()
			n.emit(narrator.Event{Kind: narrator.EventTurnEnd})
			return
		}

		pending := make([]pendingCall, 0, len(calls))
		for _, fc := range calls {
			p, ok := n.dispatch(fc)
			if !ok {
				n.finish()
				return
			}
			pending = append(pending, p)
		}

		results, ok := n.collect(ctx, pending)
		if !ok {
			n.finish()
			return
		}
		parts = make([]genai.Part, 0, len(pending))
		for _, p := range pending {
			parts = append(parts, genai.FunctionResponse{Name: p.name, Response: ResponseValue(results[p.id])})
		}
	}
}

// dispatch assigns fc an id and emits it as a tool call.
func (n *Narrator) dispatch(fc genai.FunctionCall) (pendingCall, bool) {
	id := n.newID()
	n.mu.Lock()
	n.waiting[id] = true
	n.mu.Unlock()

	call, diags, err := n.decoder.Decode(id, fc.Name, fc.Args)
	if err != nil {
		diags = append(diags, toolcall.Diagnostic{
			CallID:  id,
			Code:    toolcall.CodeUnknownTool,
			Message: err.Error(),
		})
	}
	ok := n.emit(narrator.Event{Kind: narrator.EventToolCall, Call: call, Diagnostics: diags})
	return pendingCall{id: id, name: fc.Name}, ok
}

// collect waits until every pending call has a result.
func (n *Narrator) collect(ctx context.Context, pending []pendingCall) (map[string]toolcall.Result, bool) {
	want := make(map[string]bool, len(pending))
	for _, p := range pending {
		want[p.id] = true
	}
	results := make(map[string]toolcall.Result, len(pending))
	for len(results) < len(pending) {
		r, err := n.inbox.Take(ctx)
		if err != nil {
			return nil, false
		}
		if !want[r.CallID] {
			n.logger.Warn("discarding result for another round", "call_id", r.CallID)
			continue
		}
		results[r.CallID] = r
	}
	return results, true
}

// drop forgets calls that will never be answered.
func (n *Narrator) drop() {
	n.mu.Lock()
	n.waiting = make(map[string]bool)
	n.mu.Unlock()
	n.inbox.Drain()
}

func (n *Narrator) finish() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

func (n *Narrator) emit(ev narrator.Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-n.ctx.Done():
		return false
	}
}

func hasContent(resp *genai.GenerateContentResponse) bool {
	return resp != nil && len(resp.Candidates) > 0 &&
		resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0
}

// splitParts separates narration from function calls, keeping the order of each.
func splitParts(parts []genai.Part) (texts []string, calls []genai.FunctionCall) {
	for _, part := range parts {
		switch p := part.(type) {
		case genai.Text:
			if p != "" {
				texts = append(texts, string(p))
			}
		case genai.FunctionCall:
			calls = append(calls, p)
		case *genai.FunctionCall:
			if p != nil {
				calls = append(calls, *p)
			}
		}
	}
	return texts, calls
}

// ResponseValue converts a result into the plain JSON object Gemini accepts
// as a function response.
func ResponseValue(r toolcall.Result) map[string]any {
	out := map[string]any{}
	raw, err := json.Marshal(r.Value)
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"ok": false, "error": err.Error()}
	}
	return out
}

// FunctionDeclarations converts tool declarations to Gemini's schema types.
func FunctionDeclarations(decls []toolcall.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(d.Params)),
		}
		for _, p := range d.Params {
			params.Properties[p.Name] = paramSchema(p)
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        string(d.Name),
			Description: d.Description,
			Parameters:  params,
		})
	}
	return out
}

func paramSchema(p toolcall.Param) *genai.Schema {
	s := &genai.Schema{Description: p.Description}
	switch p.Type {
	case toolcall.ParamString:
		s.Type = genai.TypeString
	case toolcall.ParamBoolean:
		s.Type = genai.TypeBoolean
	case toolcall.ParamInteger:
		s.Type = genai.TypeInteger
	case toolcall.ParamStringList:
		s.Type = genai.TypeArray
		s.Items = &genai.Schema{Type: genai.TypeString}
	case toolcall.ParamChannelMap:
		s.Type = genai.TypeObject
		s.Properties = make(map[string]*genai.Schema, len(p.Channels))
		for _, ch := range p.Channels {
			s.Properties[ch] = &genai.Schema{Type: genai.TypeInteger}
		}
	}
	return s
}
