package flow

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-receipt-bot/internal/ledger"
	"telegram-receipt-bot/internal/model"
	"telegram-receipt-bot/internal/normalize"
	"telegram-receipt-bot/internal/session"
	"telegram-receipt-bot/internal/tasks"
)

type fakeExtractor struct {
	results   []model.RawExtraction          // returned in call order
	perImage  map[string]model.RawExtraction // overrides selected by image payload
	gate      chan struct{}                  // when set, gated calls block until closed
	gateKey   string                         // image payload to gate; empty gates every call
	gateAfter int32                          // only calls numbered above this block
	calls     atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) model.RawExtraction {
	call := f.calls.Add(1)
	if f.gate != nil && call > f.gateAfter && (f.gateKey == "" || string(image) == f.gateKey) {
		<-f.gate
	}
	if r, ok := f.perImage[string(image)]; ok {
		return r
	}
	idx := int(call) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]
}

type failingLedger struct{}

func (failingLedger) Append(ctx context.Context, t model.Transaction) (int64, error) {
	return 0, fmt.Errorf("spreadsheet unreachable")
}

func (failingLedger) All(ctx context.Context) ([]model.Transaction, error) {
	return nil, nil
}

type harness struct {
	machine  *Machine
	sessions *session.Store
	ledger   *ledger.Memory
	pool     *tasks.Pool
	notified chan Reply
	user     model.User
}

func newHarness(t *testing.T, ext *fakeExtractor, l ledger.Ledger) *harness {
	t.Helper()

	h := &harness{
		sessions: session.NewStore(),
		pool:     tasks.NewPool(2, 8),
		notified: make(chan Reply, 16),
		user:     model.User{ID: 7, Username: "jamie", DisplayName: "Jamie Doe"},
	}
	t.Cleanup(h.pool.Stop)

	mem, ok := l.(*ledger.Memory)
	if l == nil {
		mem = ledger.NewMemory()
		l = mem
		ok = true
	}
	if ok {
		h.ledger = mem
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	notify := func(userID int64, r Reply) {
		h.notified <- r
	}
	h.machine = NewMachine(h.sessions, ext, l, h.pool, notify, "USD", log)
	return h
}

func (h *harness) waitNotify(t *testing.T) Reply {
	t.Helper()
	select {
	case r := <-h.notified:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an async reply")
		return Reply{}
	}
}

func (h *harness) expectNoNotify(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.notified:
		t.Fatalf("unexpected async reply: %q", r.Text)
	case <-time.After(100 * time.Millisecond):
	}
}

func tokens(r Reply) []string {
	out := make([]string, 0, len(r.Choices))
	for _, c := range r.Choices {
		out = append(out, c.Token)
	}
	return out
}

func goodExtraction() model.RawExtraction {
	return model.RawExtraction{
		Vendor:     "Shop",
		Total:      decimal.NewFromInt(10),
		Currency:   "USD",
		Date:       "2024-01-01",
		Summary:    "milk",
		Confidence: 0.9,
	}
}

func TestPhotoAcceptCommitsRecord(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	reply := h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	assert.Contains(t, reply.Text, "Processing")

	confirm := h.waitNotify(t)
	assert.Contains(t, confirm.Text, "Shop")
	assert.Contains(t, tokens(confirm), TokenAccept)

	saving := h.machine.HandleChoice(ctx, h.user, TokenAccept, "")
	assert.Contains(t, saving.Text, "Saving")

	saved := h.waitNotify(t)
	assert.Contains(t, saved.Text, "Saved record #1")

	rows, err := h.ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Shop", rows[0].Name)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "2024-01-01", rows[0].Date)
	assert.Equal(t, 0.9, rows[0].Confidence)
	assert.Equal(t, int64(7), rows[0].UserID)
	assert.Equal(t, "Jamie Doe", rows[0].UserName)
	assert.True(t, rows[0].HasImage)

	// The session is gone once committed.
	assert.Nil(t, h.sessions.Get(h.user.ID))
}

func TestFailedExtractionHidesAccept(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{{Currency: "USD"}}}, nil)

	h.machine.HandlePhoto(context.Background(), h.user, []byte("image"))
	confirm := h.waitNotify(t)

	assert.Contains(t, confirm.Text, "couldn't read")
	assert.NotContains(t, tokens(confirm), TokenAccept)
	assert.Contains(t, tokens(confirm), TokenEdit)
	assert.Contains(t, tokens(confirm), TokenReanalyze)
}

func TestManualEntryRoundTrip(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.StartManual(h.user)

	reply, handled := h.machine.HandleText(ctx, h.user, "Acme")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "How much")

	reply, handled = h.machine.HandleText(ctx, h.user, "1,234.50")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "date")

	reply, handled = h.machine.HandleText(ctx, h.user, "today")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "category")
	require.NotEmpty(t, reply.Choices)

	h.machine.HandleChoice(ctx, h.user, TokenCategory, "Food")
	h.waitNotify(t)

	rows, err := h.ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0].Name)
	assert.True(t, rows[0].Amount.Equal(decimal.RequireFromString("1234.50")), "got %s", rows[0].Amount)
	assert.Equal(t, normalize.Today(), rows[0].Date)
	assert.Equal(t, "Food", rows[0].Category)
	assert.False(t, rows[0].HasImage)
}

func TestEditSeedsDefaultsFromCandidate(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.waitNotify(t)

	reply := h.machine.HandleChoice(ctx, h.user, TokenEdit, "")
	assert.Contains(t, reply.Text, "Shop")

	// Empty answers keep the seeded values.
	_, _ = h.machine.HandleText(ctx, h.user, "")
	_, _ = h.machine.HandleText(ctx, h.user, "")
	reply, _ = h.machine.HandleText(ctx, h.user, "")
	require.NotEmpty(t, reply.Choices)

	h.machine.HandleChoice(ctx, h.user, TokenCategory, "Other")
	h.waitNotify(t)

	rows, err := h.ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Shop", rows[0].Name)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "2024-01-01", rows[0].Date)
	assert.True(t, rows[0].HasImage)
}

func TestEmptyNameWithoutDefaultReprompts(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.StartManual(h.user)

	reply, handled := h.machine.HandleText(ctx, h.user, "  ")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "can't be empty")
	assert.Equal(t, model.StateAwaitingName, h.sessions.Get(h.user.ID).State)
}

func TestEmptyAmountWithoutSeedReprompts(t *testing.T) {
	// Candidate amount of zero must not seed a default: an empty answer
	// re-prompts instead of committing amount=0 silently.
	raw := goodExtraction()
	raw.Total = decimal.Zero
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{raw}}, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.waitNotify(t)
	h.machine.HandleChoice(ctx, h.user, TokenEdit, "")

	_, _ = h.machine.HandleText(ctx, h.user, "") // name keeps "Shop"

	reply, handled := h.machine.HandleText(ctx, h.user, "")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "greater than zero")
	assert.Equal(t, model.StateAwaitingAmount, h.sessions.Get(h.user.ID).State)
}

func TestInvalidAmountReprompts(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.StartManual(h.user)
	_, _ = h.machine.HandleText(ctx, h.user, "Acme")

	reply, _ := h.machine.HandleText(ctx, h.user, "a lot")
	assert.Contains(t, reply.Text, "couldn't read that amount")

	reply, _ = h.machine.HandleText(ctx, h.user, "-5")
	assert.Contains(t, reply.Text, "greater than zero")

	reply, _ = h.machine.HandleText(ctx, h.user, "$12.50")
	assert.Contains(t, reply.Text, "date")
}

func TestInvalidDateReprompts(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.StartManual(h.user)
	_, _ = h.machine.HandleText(ctx, h.user, "Acme")
	_, _ = h.machine.HandleText(ctx, h.user, "10")

	reply, _ := h.machine.HandleText(ctx, h.user, "11/03/2024")
	assert.Contains(t, reply.Text, "couldn't read that date")
	assert.Equal(t, model.StateAwaitingDate, h.sessions.Get(h.user.ID).State)

	reply, _ = h.machine.HandleText(ctx, h.user, "2024-03-11")
	require.NotEmpty(t, reply.Choices)
}

func TestCancelClearsSessionAndFreshAddHasNoLeakedDefaults(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.StartManual(h.user)
	_, _ = h.machine.HandleText(ctx, h.user, "Acme")
	_, _ = h.machine.HandleText(ctx, h.user, "10")
	require.Equal(t, model.StateAwaitingDate, h.sessions.Get(h.user.ID).State)

	h.machine.Cancel(h.user)
	assert.Nil(t, h.sessions.Get(h.user.ID))

	// A fresh /add starts from a blank draft.
	h.machine.StartManual(h.user)
	reply, _ := h.machine.HandleText(ctx, h.user, "")
	assert.Contains(t, reply.Text, "can't be empty")
}

func TestCancelDiscardsOutstandingExtraction(t *testing.T) {
	ext := &fakeExtractor{results: []model.RawExtraction{goodExtraction()}, gate: make(chan struct{})}
	h := newHarness(t, ext, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.machine.Cancel(h.user)
	close(ext.gate)

	h.expectNoNotify(t)
	assert.Nil(t, h.sessions.Get(h.user.ID))
}

func TestNewPhotoSupersedesInFlightExtraction(t *testing.T) {
	first := goodExtraction()
	second := goodExtraction()
	second.Vendor = "Later Shop"
	ext := &fakeExtractor{
		perImage: map[string]model.RawExtraction{"first": first, "second": second},
		gate:     make(chan struct{}),
		gateKey:  "first",
	}
	h := newHarness(t, ext, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("first"))
	h.machine.HandlePhoto(ctx, h.user, []byte("second"))

	confirm := h.waitNotify(t)
	assert.Contains(t, confirm.Text, "Later Shop")

	// The first extraction finishes afterwards and is discarded.
	close(ext.gate)
	h.expectNoNotify(t)
}

func TestAcceptTwiceCommitsOnce(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.waitNotify(t)

	first := h.machine.HandleChoice(ctx, h.user, TokenAccept, "")
	assert.Contains(t, first.Text, "Saving")

	// The session is gone the moment the first accept claims it, so a
	// repeated press cannot commit a duplicate.
	second := h.machine.HandleChoice(ctx, h.user, TokenAccept, "")
	assert.Contains(t, second.Text, "expired")

	h.waitNotify(t)
	rows, err := h.ledger.All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestConcurrentTextTurnsDuringExtraction(t *testing.T) {
	ext := &fakeExtractor{results: []model.RawExtraction{goodExtraction()}, gate: make(chan struct{})}
	h := newHarness(t, ext, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))

	// Messages typed while the extraction worker applies its result must
	// serialize against it instead of racing on the session.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.machine.HandleText(ctx, h.user, "is it ready?")
		}
	}()

	close(ext.gate)
	h.waitNotify(t)
	<-done

	reply, handled := h.machine.HandleText(ctx, h.user, "is it ready?")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "buttons")
}

func TestReanalyzeRerunsExtractor(t *testing.T) {
	first := goodExtraction()
	second := goodExtraction()
	second.Vendor = "Corrected Shop"
	ext := &fakeExtractor{results: []model.RawExtraction{first, second}}
	h := newHarness(t, ext, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.waitNotify(t)

	reply := h.machine.HandleChoice(ctx, h.user, TokenReanalyze, "")
	assert.Contains(t, reply.Text, "again")

	confirm := h.waitNotify(t)
	assert.Contains(t, confirm.Text, "Corrected Shop")
	assert.Equal(t, int32(2), ext.calls.Load())
}

func TestRapidReanalyzeNotifiesOnce(t *testing.T) {
	// The first extraction runs through; the two re-analysis runs stay
	// blocked until both presses have landed.
	ext := &fakeExtractor{
		results:   []model.RawExtraction{goodExtraction()},
		gate:      make(chan struct{}),
		gateAfter: 1,
	}
	h := newHarness(t, ext, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.waitNotify(t)

	first := h.machine.HandleChoice(ctx, h.user, TokenReanalyze, "")
	assert.Contains(t, first.Text, "again")
	second := h.machine.HandleChoice(ctx, h.user, TokenReanalyze, "")
	assert.Contains(t, second.Text, "again")

	// Only the run for the latest press survives; the superseded one is
	// discarded, not announced a second time.
	close(ext.gate)
	h.waitNotify(t)
	h.expectNoNotify(t)
	assert.Equal(t, int32(3), ext.calls.Load())
}

func TestCommitFailureClearsSessionAndInformsUser(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, failingLedger{})
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))
	h.waitNotify(t)

	h.machine.HandleChoice(ctx, h.user, TokenAccept, "")
	failure := h.waitNotify(t)
	assert.Contains(t, failure.Text, "Saving failed")

	// No retry loop: the session is gone either way.
	assert.Nil(t, h.sessions.Get(h.user.ID))
}

func TestChoiceWithoutSession(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)

	reply := h.machine.HandleChoice(context.Background(), h.user, TokenAccept, "")
	assert.Contains(t, reply.Text, "send the receipt photo again")
}

func TestTextOutsideAnyFlowIsNotHandled(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)

	_, handled := h.machine.HandleText(context.Background(), h.user, "hello")
	assert.False(t, handled)
}

func TestTextWhileProcessing(t *testing.T) {
	ext := &fakeExtractor{results: []model.RawExtraction{goodExtraction()}, gate: make(chan struct{})}
	h := newHarness(t, ext, nil)
	ctx := context.Background()

	h.machine.HandlePhoto(ctx, h.user, []byte("image"))

	reply, handled := h.machine.HandleText(ctx, h.user, "did it work?")
	require.True(t, handled)
	assert.Contains(t, reply.Text, "Still working")

	close(ext.gate)
	h.waitNotify(t)
}

func TestUnknownCategoryReprompts(t *testing.T) {
	h := newHarness(t, &fakeExtractor{results: []model.RawExtraction{goodExtraction()}}, nil)
	ctx := context.Background()

	h.machine.StartManual(h.user)
	_, _ = h.machine.HandleText(ctx, h.user, "Acme")
	_, _ = h.machine.HandleText(ctx, h.user, "10")
	_, _ = h.machine.HandleText(ctx, h.user, "today")

	reply := h.machine.HandleChoice(ctx, h.user, TokenCategory, "Bitcoin")
	assert.Contains(t, reply.Text, "pick a category")
	assert.Equal(t, model.StateAwaitingCategory, h.sessions.Get(h.user.ID).State)

	h.machine.HandleChoice(ctx, h.user, TokenCategory, "Other")
	h.waitNotify(t)

	rows, err := h.ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Other", rows[0].Category)
}