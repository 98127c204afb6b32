package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/cartbot/internal/catalog"
	"github.com/kalambet/cartbot/internal/composer"
	"github.com/kalambet/cartbot/internal/intent"
	"github.com/kalambet/cartbot/internal/session"
)

type mockAssembler struct {
	calls atomic.Int32
	ctx   composer.Context
}

func (m *mockAssembler) AssembleIntents(ctx context.Context, message string, intents intent.Set) composer.Context {
	m.calls.Add(1)
	out := m.ctx
	out.Intents = intents
	return out
}

type mockCompleter struct {
	calls      atomic.Int32
	lastPrompt string
	generateFn func(prompt string) (string, error)
}

func (m *mockCompleter) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	m.lastPrompt = prompt
	if m.generateFn != nil {
		return m.generateFn(prompt)
	}
	return "  Đây là câu trả lời.  ", nil
}

type mockSync struct {
	calls atomic.Int32
	err   error
	last  [4]string
}

func (m *mockSync) Enqueue(userID, sessionID, userMessage, aiResponse string) error {
	m.calls.Add(1)
	m.last = [4]string{userID, sessionID, userMessage, aiResponse}
	return m.err
}

func newTestService(t *testing.T) (*Service, *mockAssembler, *mockCompleter, *mockSync, *session.Store) {
	t.Helper()
	asm := &mockAssembler{ctx: composer.Context{
		ProductsText:   composer.NoProductsText,
		ShopsText:      composer.NoShopsText,
		FlashSalesText: composer.NoFlashSalesText,
	}}
	comp := &mockCompleter{}
	sy := &mockSync{}
	store := session.NewStore(map[string]string{"tok": "user_tok"})
	return NewService(asm, comp, store, sy), asm, comp, sy, store
}

func TestChat_Success(t *testing.T) {
	svc, asm, comp, sy, store := newTestService(t)

	resp := svc.Chat(context.Background(), Request{Message: "tìm sản phẩm dưới 100k", UserID: "u1"})

	if resp.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q (err %v)", resp.Status, StatusSuccess, resp.Err)
	}
	if resp.Response != "Đây là câu trả lời." {
		t.Errorf("Response = %q", resp.Response)
	}
	if resp.UserID != "u1" || resp.SessionID != "user_u1_main" {
		t.Errorf("identity = (%q, %q)", resp.UserID, resp.SessionID)
	}
	if asm.calls.Load() != 1 || comp.calls.Load() != 1 {
		t.Errorf("assembler calls = %d, completer calls = %d, want 1 and 1", asm.calls.Load(), comp.calls.Load())
	}
	if !strings.Contains(comp.lastPrompt, "tìm sản phẩm dưới 100k") {
		t.Errorf("prompt does not contain the message: %q", comp.lastPrompt)
	}
	if !resp.Metadata.Intents.Has(intent.Product) {
		t.Errorf("Intents = %v, want product", resp.Metadata.Intents)
	}

	sess, err := store.Get("user_u1_main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Response != "Đây là câu trả lời." {
		t.Errorf("session messages = %+v", sess.Messages)
	}

	if sy.calls.Load() != 1 {
		t.Fatalf("sync calls = %d, want 1", sy.calls.Load())
	}
	want := [4]string{"u1", "user_u1_main", "tìm sản phẩm dưới 100k", "Đây là câu trả lời."}
	if sy.last != want {
		t.Errorf("sync enqueue = %v, want %v", sy.last, want)
	}
}

func TestChat_OutOfScope(t *testing.T) {
	svc, asm, comp, sy, store := newTestService(t)

	resp := svc.Chat(context.Background(), Request{Message: "thời tiết hôm nay thế nào?", UserID: "u1"})

	if resp.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", resp.Status, StatusSuccess)
	}
	if resp.Response != intent.RefusalMessage {
		t.Errorf("Response = %q, want refusal", resp.Response)
	}
	if asm.calls.Load() != 0 || comp.calls.Load() != 0 {
		t.Errorf("assembler calls = %d, completer calls = %d, want 0 and 0", asm.calls.Load(), comp.calls.Load())
	}
	if sy.calls.Load() != 0 {
		t.Errorf("sync calls = %d, want 0", sy.calls.Load())
	}
	sess, err := store.Get("user_u1_main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(sess.Messages))
	}
}

func TestChat_OutOfScopeWinsOverProduct(t *testing.T) {
	svc, asm, comp, _, _ := newTestService(t)

	resp := svc.Chat(context.Background(), Request{Message: "mua bitcoin ở đâu", UserID: "u1"})
	if resp.Response != intent.RefusalMessage {
		t.Errorf("Response = %q, want refusal", resp.Response)
	}
	if asm.calls.Load() != 0 || comp.calls.Load() != 0 {
		t.Error("expected no catalog or completion calls")
	}
}

func TestChat_GreetingOnly(t *testing.T) {
	svc, asm, comp, _, store := newTestService(t)

	resp := svc.Chat(context.Background(), Request{Message: "Xin chào", UserID: "u1"})

	if resp.Response != intent.GreetingMessage {
		t.Errorf("Response = %q, want greeting", resp.Response)
	}
	if asm.calls.Load() != 0 || comp.calls.Load() != 0 {
		t.Errorf("assembler calls = %d, completer calls = %d, want 0 and 0", asm.calls.Load(), comp.calls.Load())
	}
	if got := store.History("user_u1_main", 1, 20).Total; got != 1 {
		t.Errorf("total messages = %d, want 1", got)
	}
}

func TestChat_GreetingWithQuestionUsesModel(t *testing.T) {
	tests := []string{
		"xin chào, shop nào bán gạo?",
		"chào bạn, chính sách đổi trả thế nào?",
	}
	for _, msg := range tests {
		t.Run(msg, func(t *testing.T) {
			svc, _, comp, _, _ := newTestService(t)
			resp := svc.Chat(context.Background(), Request{Message: msg, UserID: "u1"})
			if resp.Response == intent.GreetingMessage {
				t.Error("got canned greeting, want model reply")
			}
			if comp.calls.Load() != 1 {
				t.Errorf("completer calls = %d, want 1", comp.calls.Load())
			}
		})
	}
}

func TestChat_CompletionError(t *testing.T) {
	svc, _, comp, sy, store := newTestService(t)
	upstream := errors.New("upstream 500")
	comp.generateFn = func(string) (string, error) { return "", upstream }

	resp := svc.Chat(context.Background(), Request{Message: "giá sản phẩm", UserID: "u1"})

	if resp.Status != StatusError {
		t.Errorf("Status = %q, want %q", resp.Status, StatusError)
	}
	if resp.Response != ErrorMessage {
		t.Errorf("Response = %q, want %q", resp.Response, ErrorMessage)
	}
	if !errors.Is(resp.Err, upstream) {
		t.Errorf("Err = %v, want %v", resp.Err, upstream)
	}
	if got := store.History("user_u1_main", 1, 20).Total; got != 0 {
		t.Errorf("history total = %d, want 0", got)
	}
	if sy.calls.Load() != 0 {
		t.Errorf("sync calls = %d, want 0", sy.calls.Load())
	}
}

func TestChat_HistoryDeletedDuringTurn(t *testing.T) {
	svc, _, comp, sy, store := newTestService(t)
	store.Append("user_u1_main", "u1", "q0", "a0")
	comp.generateFn = func(string) (string, error) {
		store.DeleteHistory("u1")
		return "Đây là câu trả lời.", nil
	}

	resp := svc.Chat(context.Background(), Request{Message: "giá sản phẩm", UserID: "u1"})

	if resp.Status != StatusSuccess || resp.Response != "Đây là câu trả lời." {
		t.Errorf("resp = %+v", resp)
	}
	if _, err := store.Get("user_u1_main"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if sy.calls.Load() != 0 {
		t.Errorf("sync calls = %d, want 0", sy.calls.Load())
	}
}

func TestChat_SyncFailureDoesNotFailChat(t *testing.T) {
	svc, _, _, sy, _ := newTestService(t)
	sy.err = errors.New("disk full")

	resp := svc.Chat(context.Background(), Request{Message: "mua áo", UserID: "u1"})
	if resp.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", resp.Status, StatusSuccess)
	}
}

func TestChat_NilSync(t *testing.T) {
	asm := &mockAssembler{}
	comp := &mockCompleter{}
	svc := NewService(asm, comp, session.NewStore(nil), nil)

	resp := svc.Chat(context.Background(), Request{Message: "mua áo", UserID: "u1"})
	if resp.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", resp.Status, StatusSuccess)
	}
}

func TestChat_Identity(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	a := svc.Chat(ctx, Request{Message: "xin chào", UserID: "alice"})
	b := svc.Chat(ctx, Request{Message: "xin chào", UserID: "alice"})
	c := svc.Chat(ctx, Request{Message: "xin chào", UserID: "bob"})
	if a.SessionID != b.SessionID {
		t.Errorf("same user got sessions %q and %q", a.SessionID, b.SessionID)
	}
	if a.SessionID == c.SessionID {
		t.Errorf("different users share session %q", a.SessionID)
	}

	tok := svc.Chat(ctx, Request{Message: "xin chào", Authorization: "Bearer tok"})
	if tok.UserID != "user_tok" {
		t.Errorf("token UserID = %q, want %q", tok.UserID, "user_tok")
	}

	anon := svc.Chat(ctx, Request{Message: "xin chào"})
	if !strings.HasPrefix(anon.UserID, "anonymous_") {
		t.Errorf("anonymous UserID = %q", anon.UserID)
	}
}

func TestChat_ShopResolvedMetadata(t *testing.T) {
	svc, asm, _, _, _ := newTestService(t)
	asm.ctx.Shop = &catalog.Shop{ID: "s1", Name: "Gạo Sạch ABC"}

	resp := svc.Chat(context.Background(), Request{Message: "shop Gạo Sạch ABC có gì", UserID: "u1"})
	if resp.Metadata.ShopResolved != "Gạo Sạch ABC" {
		t.Errorf("ShopResolved = %q", resp.Metadata.ShopResolved)
	}
	if resp.Metadata.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}
