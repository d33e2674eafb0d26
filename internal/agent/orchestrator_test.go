package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

type fakeBackend struct {
	calls   atomic.Int32
	unified func(ctx context.Context, req backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error)
	ask     func(ctx context.Context, req backend.FormattedChatRequest) (*backend.FormattedChatResponse, error)
	coach   func(ctx context.Context, req backend.CoachRequest) (*backend.CoachResponse, error)
	status  func(ctx context.Context) ([]backend.AgentStatus, error)
}

func (f *fakeBackend) UnifiedChat(ctx context.Context, req backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
	f.calls.Add(1)
	return f.unified(ctx, req)
}

func (f *fakeBackend) FormattedChat(ctx context.Context, req backend.FormattedChatRequest) (*backend.FormattedChatResponse, error) {
	f.calls.Add(1)
	return f.ask(ctx, req)
}

func (f *fakeBackend) StudentCoach(ctx context.Context, req backend.CoachRequest) (*backend.CoachResponse, error) {
	f.calls.Add(1)
	return f.coach(ctx, req)
}

func (f *fakeBackend) Status(ctx context.Context) ([]backend.AgentStatus, error) {
	f.calls.Add(1)
	return f.status(ctx)
}

var orchKey = chat.Key{UserID: "u1", SessionID: "s1"}

func newTestOrchestrator(t *testing.T, b Backend) (*Orchestrator, *chat.Store) {
	t.Helper()
	catalog, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog error: %v", err)
	}
	store := chat.NewStore()
	return NewOrchestrator(b, store, catalog, nil, DefaultConfig(), nil), store
}

func selectAgents(t *testing.T, store *chat.Store, mode domain.ChatMode, ids ...string) {
	t.Helper()
	store.Open(orchKey)
	if _, err := store.SetAgents(orchKey, ids); err != nil {
		t.Fatalf("SetAgents error: %v", err)
	}
	if _, err := store.SetMode(orchKey, mode); err != nil {
		t.Fatalf("SetMode error: %v", err)
	}
}

func envelope(t *testing.T, env map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestSendIndividualIsolatesMalformedReply(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor", "exam_generator", "lesson_planner")

	b.unified = func(_ context.Context, req backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		if req.ChatMode != "individual" || len(req.SelectedAgents) != 3 || req.Message != "¿Qué es una derivada?" {
			t.Errorf("request = %+v", req)
		}
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			envelope(t, map[string]any{"agent_type": "tutor", "formatted_content": "Es una tasa de cambio.", "is_real_agent": true}),
			envelope(t, map[string]any{"agent_type": "exam_generator", "response": `{"broken": `}),
			envelope(t, map[string]any{"agent_type": "lesson_planner", "response": map[string]any{
				"interaction": map[string]any{"formatted_content": "Plan de clase"},
			}}),
		}}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "¿Qué es una derivada?")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnSettled {
		t.Fatalf("status = %s", res.Status)
	}

	msgs := store.Messages(orchKey)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser {
		t.Fatalf("first message role = %s", msgs[0].Role)
	}
	wantIDs := []string{"tutor", "exam_generator", "lesson_planner"}
	for i, id := range wantIDs {
		m := msgs[i+1]
		if m.Role != domain.RoleAgent || m.AgentID() != id {
			t.Errorf("message %d = %s/%s, want agent/%s", i+1, m.Role, m.AgentID(), id)
		}
		if m.Content.Failed() {
			t.Errorf("message %d failed: %s", i+1, m.Content.Error)
		}
	}
	if !msgs[1].Agent.IsReal || msgs[3].Agent.IsReal {
		t.Errorf("is_real flags not kept per envelope")
	}
	if !msgs[2].Content.IsRawData() {
		t.Errorf("malformed reply shape = %q, want raw data", msgs[2].Content.Shape)
	}
	if msgs[3].Content.Text != "Plan de clase" {
		t.Errorf("third reply text = %q", msgs[3].Content.Text)
	}
	if got := o.GetStats().Settled; got != 1 {
		t.Errorf("settled = %d", got)
	}
}

func TestSendExtractsNonStringFormattedContent(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor", "exam_generator", "lesson_planner")

	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			envelope(t, map[string]any{"agent_type": "tutor", "formatted_content": map[string]any{
				"interaction": map[string]any{"formatted_content": "Contenido anidado"},
			}}),
			envelope(t, map[string]any{"agent_type": "exam_generator", "formatted_content": 42}),
			envelope(t, map[string]any{"agent_type": "lesson_planner", "formatted_content": "", "response": "Respuesta directa"}),
		}}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "hola")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnSettled || len(res.Messages) != 4 {
		t.Fatalf("turn = %+v", res)
	}
	for i, m := range res.Messages[1:] {
		if m.Content.Failed() {
			t.Errorf("message %d failed: %s", i+1, m.Content.Error)
		}
	}
	if got := res.Messages[1].Content.Text; got != "Contenido anidado" {
		t.Errorf("object formatted_content text = %q", got)
	}
	if !res.Messages[2].Content.IsRawData() {
		t.Errorf("numeric formatted_content shape = %q, want raw data", res.Messages[2].Content.Shape)
	}
	if got := res.Messages[3].Content.Text; got != "Respuesta directa" {
		t.Errorf("blank formatted_content should fall back to response, got %q", got)
	}
}

func TestSendBrokenEnvelopeKeepsSiblings(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor", "exam_generator")

	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			json.RawMessage(`42`),
			envelope(t, map[string]any{"agent_type": "exam_generator", "formatted_content": "Examen listo"}),
		}}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "hola")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnSettled || len(res.Messages) != 3 {
		t.Fatalf("result = %+v", res)
	}
	broken := res.Messages[1]
	if !broken.Content.Failed() || broken.AgentID() != "tutor" || broken.Metadata["error"] == nil {
		t.Fatalf("broken envelope message = %+v", broken)
	}
	if res.Messages[2].Content.Failed() {
		t.Fatalf("sibling failed: %+v", res.Messages[2])
	}
}

func TestSendAllAgentsFailed(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor")

	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			envelope(t, map[string]any{"agent_type": "tutor"}),
		}}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "hola")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnFailed || res.Error != ErrAllAgentsFailed.Error() {
		t.Fatalf("result = %+v", res)
	}
	if len(store.Messages(orchKey)) != 2 || !res.Messages[1].Content.Failed() {
		t.Fatalf("expected user message plus one notice, got %+v", res.Messages)
	}
}

func TestSendEmptyReplyIsSystemNotice(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor")

	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		return &backend.UnifiedChatResponse{}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "hola")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnFailed || len(res.Messages) != 2 || res.Messages[1].Role != domain.RoleSystem {
		t.Fatalf("result = %+v", res)
	}
	if res.Messages[1].Metadata["retryable"] != false {
		t.Fatalf("empty reply marked retryable")
	}
}

func TestSendCollaborationMergesIntoOneMessage(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{status: func(context.Context) ([]backend.AgentStatus, error) {
		return []backend.AgentStatus{{Type: "tutor", IsRealAgent: true}, {Type: "exam_generator", IsRealAgent: true}}, nil
	}}
	o, store := newTestOrchestrator(t, b)
	if _, err := o.RefreshStatus(context.Background(), orchKey); err != nil {
		t.Fatalf("RefreshStatus error: %v", err)
	}
	selectAgents(t, store, domain.ModeCollaboration, "tutor", "exam_generator")

	b.unified = func(_ context.Context, req backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		if req.ChatMode != "collaboration" {
			t.Errorf("chat mode = %q", req.ChatMode)
		}
		return &backend.UnifiedChatResponse{
			Responses:           []json.RawMessage{envelope(t, map[string]any{"agent_type": "tutor", "formatted_content": "parcial"})},
			CollaborationResult: json.RawMessage(`"Resumen conjunto de los agentes"`),
		}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "Prepara un repaso")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages, want user plus one merged", len(res.Messages))
	}
	merged := res.Messages[1]
	if merged.AgentID() != "collaboration" || !merged.Agent.IsReal {
		t.Fatalf("merged agent = %+v", merged.Agent)
	}
	if merged.Content.Text != "Resumen conjunto de los agentes" {
		t.Fatalf("merged text = %q", merged.Content.Text)
	}
}

func TestSendCollaborationFallsBackToEnvelopes(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeCollaboration, "tutor", "exam_generator")

	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			envelope(t, map[string]any{"agent_type": "tutor", "formatted_content": "uno"}),
			envelope(t, map[string]any{"agent_type": "exam_generator", "formatted_content": "dos"}),
		}}, nil
	}

	res, err := o.Send(context.Background(), orchKey, "hola")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("got %d messages", len(res.Messages))
	}
}

func TestSendWithoutAgentsIssuesNoRequest(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, _ := newTestOrchestrator(t, b)

	if _, err := o.Send(context.Background(), orchKey, "hola"); !errors.Is(err, ErrNoAgentsSelected) {
		t.Fatalf("err = %v, want ErrNoAgentsSelected", err)
	}
	if _, err := o.Send(context.Background(), orchKey, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if n := b.calls.Load(); n != 0 {
		t.Fatalf("backend called %d times", n)
	}
}

func TestSendRejectsWhileSending(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor")

	turn, err := store.BeginSend(context.Background(), orchKey)
	if err != nil {
		t.Fatalf("BeginSend error: %v", err)
	}
	defer store.EndSend(orchKey, turn)

	if _, err := o.Send(context.Background(), orchKey, "hola"); !errors.Is(err, ErrSendInProgress) {
		t.Fatalf("err = %v, want ErrSendInProgress", err)
	}
	if len(store.Messages(orchKey)) != 0 {
		t.Fatalf("rejected send appended a message")
	}
}

func TestTransportFailureAppendsOneSystemMessage(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor", "exam_generator")

	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		return nil, fmt.Errorf("%w: unified chat: connection refused", backend.ErrTransport)
	}

	res, err := o.Send(context.Background(), orchKey, "hola")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnFailed {
		t.Fatalf("status = %s", res.Status)
	}

	msgs := store.Messages(orchKey)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user plus one system", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content.Text != "hola" {
		t.Fatalf("user message lost: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleSystem || msgs[1].Metadata["retryable"] != true {
		t.Fatalf("system message = %+v", msgs[1])
	}
	if sess, _ := store.Get(orchKey); sess.State != chat.StateIdle {
		t.Fatalf("session left in %s", sess.State)
	}
}

func TestResetDropsLateResult(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor")

	started := make(chan struct{})
	release := make(chan struct{})
	b.unified = func(context.Context, backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		close(started)
		<-release
		// The reply arrives even though the turn was cancelled.
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			envelope(t, map[string]any{"agent_type": "tutor", "formatted_content": "tarde"}),
		}}, nil
	}

	var (
		wg  sync.WaitGroup
		res TurnResult
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err = o.Send(context.Background(), orchKey, "hola")
	}()

	<-started
	if _, rerr := store.Reset(orchKey); rerr != nil {
		t.Fatalf("Reset error: %v", rerr)
	}
	close(release)
	wg.Wait()

	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.Status != TurnDiscarded {
		t.Fatalf("status = %s, want discarded", res.Status)
	}
	if n := len(store.Messages(orchKey)); n != 0 {
		t.Fatalf("reset session has %d messages", n)
	}
	if got := o.GetStats().Discarded; got != 1 {
		t.Fatalf("discarded = %d", got)
	}
}

func TestSendCarriesHistoryWithoutSystemNotices(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)
	selectAgents(t, store, domain.ModeIndividual, "tutor")

	var got []backend.HistoryEntry
	fail := true
	b.unified = func(_ context.Context, req backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error) {
		got = req.Context.ConversationHistory
		if req.Context.SessionID != "s1" {
			t.Errorf("session id = %q", req.Context.SessionID)
		}
		if fail {
			return nil, backend.ErrTransport
		}
		return &backend.UnifiedChatResponse{Responses: []json.RawMessage{
			envelope(t, map[string]any{"agent_type": "tutor", "formatted_content": "respuesta"}),
		}}, nil
	}

	if _, err := o.Send(context.Background(), orchKey, "primero"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("first send history = %+v", got)
	}
	fail = false
	if _, err := o.Send(context.Background(), orchKey, "segundo"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(got) != 1 || got[0].Role != "user" || got[0].Content != "primero" {
		t.Fatalf("history = %+v", got)
	}
}

func TestAskUsesAgentBlock(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, store := newTestOrchestrator(t, b)

	b.ask = func(_ context.Context, req backend.FormattedChatRequest) (*backend.FormattedChatResponse, error) {
		if req.AgentType != "tutor" {
			t.Errorf("agent type = %q", req.AgentType)
		}
		raw := json.RawMessage(`{"agent":{"type":"tutor","name":"Tutor IA","is_real_agent":true},"interaction":{"formatted_content":"# Derivadas\n\nUna tasa."}}`)
		return &backend.FormattedChatResponse{
			Agent: backend.AgentInfo{Type: "tutor", Name: "Tutor IA", IsRealAgent: true},
			Raw:   raw,
		}, nil
	}

	res, err := o.Ask(context.Background(), orchKey, "tutor", "explica")
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages", len(res.Messages))
	}
	reply := res.Messages[1]
	if reply.Agent.DisplayName != "Tutor IA" || !reply.Agent.IsReal {
		t.Fatalf("agent = %+v", reply.Agent)
	}
	if reply.Content.Shape != "interaction_formatted" {
		t.Fatalf("shape = %q", reply.Content.Shape)
	}
	if len(store.Messages(orchKey)) != 2 {
		t.Fatalf("store not updated")
	}
	if _, err := o.Ask(context.Background(), orchKey, "", "x"); !errors.Is(err, ErrNoAgentsSelected) {
		t.Fatalf("err = %v", err)
	}
}

func TestCoachUsesGuidance(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	o, _ := newTestOrchestrator(t, b)

	b.coach = func(context.Context, backend.CoachRequest) (*backend.CoachResponse, error) {
		return &backend.CoachResponse{Raw: json.RawMessage(`{"guidance":"Organiza tu semana en bloques cortos."}`)}, nil
	}

	res, err := o.Coach(context.Background(), orchKey, "me cuesta estudiar")
	if err != nil {
		t.Fatalf("Coach error: %v", err)
	}
	reply := res.Messages[1]
	if reply.AgentID() != CoachAgentID || reply.Content.Shape != "guidance" {
		t.Fatalf("reply = %s / %s", reply.AgentID(), reply.Content.Shape)
	}
}

func TestRefreshStatusReturnsDescriptorsOnError(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{status: func(context.Context) ([]backend.AgentStatus, error) {
		return nil, backend.ErrTransport
	}}
	o, store := newTestOrchestrator(t, b)

	descs, err := o.RefreshStatus(context.Background(), orchKey)
	if !errors.Is(err, backend.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if len(descs) == 0 || descs[0].StatusLabel != "Estado desconocido" {
		t.Fatalf("descriptors = %+v", descs)
	}
	if _, err := store.Get(orchKey); err != nil {
		t.Fatalf("session not opened: %v", err)
	}
}
