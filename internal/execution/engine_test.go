package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/exchange"
)

// fakeSubmitter fills everything immediately unless told to fail specific
// calls.
type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []core.Order
	cancelled []string
	failCalls map[int]bool // 1-based call index -> fail
	calls     int
}

func (f *fakeSubmitter) Submit(_ context.Context, o core.Order) (core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failCalls[f.calls] {
		o.Status = core.StatusFailed
		return o, errors.New("simulated submit failure")
	}
	o.ID = fmt.Sprintf("ord-%d", f.calls)
	o.Status = core.StatusFilled
	o.FilledQty = o.Quantity
	if o.Price == 0 {
		o.Price = 0.50
	}
	f.submitted = append(f.submitted, o)
	return o, nil
}

func (f *fakeSubmitter) Cancel(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeSubmitter) filledTotal() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, o := range f.submitted {
		total += o.FilledQty
	}
	return total
}

// fakeQuoter returns a scripted sequence of midpoints, repeating the last.
type fakeQuoter struct {
	mu   sync.Mutex
	mids []exchange.Midpoint
	errs bool
	i    int
}

func (f *fakeQuoter) GetMidpoint(_ context.Context, _ string) (exchange.Midpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs {
		return exchange.Midpoint{}, errors.New("no quote")
	}
	if len(f.mids) == 0 {
		return exchange.Midpoint{Yes: 0.50, No: 0.50}, nil
	}
	mid := f.mids[f.i]
	if f.i < len(f.mids)-1 {
		f.i++
	}
	return mid, nil
}

// sleepRecorder captures the durations interval algorithms request without
// actually waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func testEngine(sub Submitter, q Quoter) *Engine {
	e, _ := pacedEngine(sub, q)
	return e
}

func pacedEngine(sub Submitter, q Quoter) (*Engine, *sleepRecorder) {
	rec := &sleepRecorder{}
	e := NewEngine(sub, q, nil, nil, nil, DefaultConfig())
	e.sleep = rec.sleep
	return e, rec
}

func testIntent(algo core.Algorithm, qty float64) core.TradeIntent {
	return core.TradeIntent{
		Signal: core.Signal{
			ID:         "sig-1",
			MarketID:   "mkt-1",
			Asset:      "TEST",
			Outcome:    core.OutcomeYes,
			Direction:  core.DirectionBuy,
			Confidence: 0.70,
			Price:      0.50,
			Quantity:   qty,
		},
		OriginalQuantity: qty,
		ApprovedQuantity: qty,
		Algorithm:        algo,
	}
}

func TestMarketExecutesFullQuantity(t *testing.T) {
	sub := &fakeSubmitter{}
	e := testEngine(sub, &fakeQuoter{})

	res, err := e.Execute(context.Background(), testIntent(core.AlgoMarket, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.FilledQuantity != 100 {
		t.Fatalf("FilledQuantity=%v, expected 100", res.FilledQuantity)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("chunks=%d, expected 1", len(res.Chunks))
	}
}

func TestUnknownAlgorithmIsValidationError(t *testing.T) {
	e := testEngine(&fakeSubmitter{}, &fakeQuoter{})
	intent := testIntent("VWAP", 100)

	_, err := e.Execute(context.Background(), intent)
	if !core.IsValidation(err) {
		t.Fatalf("expected ValidationError for unknown algorithm, got %v", err)
	}
}

// Chunk sizes must conserve the approved quantity exactly, float residue
// included.
func TestIcebergConservesQuantity(t *testing.T) {
	sub := &fakeSubmitter{}
	e := testEngine(sub, &fakeQuoter{})

	res, err := e.Execute(context.Background(), testIntent(core.AlgoIceberg, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(res.Chunks) != 4 {
		t.Fatalf("chunks=%d, expected 4", len(res.Chunks))
	}
	var planned float64
	for _, c := range res.Chunks {
		planned += c.Quantity
	}
	if math.Abs(planned-100) > 1e-9 {
		t.Fatalf("planned=%v, expected exactly 100", planned)
	}
	if math.Abs(res.FilledQuantity-100) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 100", res.FilledQuantity)
	}
}

// A mid-plan chunk failure stops the plan and reports what actually filled,
// not zero and not the full request.
func TestIcebergPartialFillOnChunkFailure(t *testing.T) {
	sub := &fakeSubmitter{failCalls: map[int]bool{3: true}}
	e := testEngine(sub, &fakeQuoter{})

	res, err := e.Execute(context.Background(), testIntent(core.AlgoIceberg, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("expected aborted plan")
	}
	if math.Abs(res.FilledQuantity-50) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 50 from the first two chunks", res.FilledQuantity)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("chunks=%d, expected 3 recorded including the failure", len(res.Chunks))
	}
	if res.Chunks[2].Err == "" {
		t.Fatalf("failed chunk must record its error")
	}
}

func TestIcebergContinueOnError(t *testing.T) {
	sub := &fakeSubmitter{failCalls: map[int]bool{2: true}}
	e := testEngine(sub, &fakeQuoter{})
	e.cfg.ContinueOnError = true

	res, err := e.Execute(context.Background(), testIntent(core.AlgoIceberg, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Aborted {
		t.Fatalf("continue-on-error plan must not abort")
	}
	if len(res.Chunks) != 4 {
		t.Fatalf("chunks=%d, expected all 4 attempted", len(res.Chunks))
	}
	// The failed chunk's quantity folds into the final chunk.
	if math.Abs(res.FilledQuantity-100) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 100", res.FilledQuantity)
	}
}

// Iceberg inter-chunk delays must stay inside the jitter band around the
// configured base.
func TestIcebergDelaysStayInJitterBand(t *testing.T) {
	e, rec := pacedEngine(&fakeSubmitter{}, &fakeQuoter{})

	if _, err := e.Execute(context.Background(), testIntent(core.AlgoIceberg, 100)); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	delays := rec.recorded()
	if len(delays) != 3 {
		t.Fatalf("delays=%d, expected 3 between 4 chunks", len(delays))
	}
	base := e.cfg.IcebergDelay
	lo := time.Duration(float64(base) * 0.5)
	hi := time.Duration(float64(base) * 1.5)
	for i, d := range delays {
		if d < lo || d >= hi {
			t.Fatalf("delay %d=%v, expected within [%v, %v)", i+1, d, lo, hi)
		}
	}
}

// TWAP slices pace at exactly the configured interval, no jitter.
func TestTWAPUsesConfiguredInterval(t *testing.T) {
	e, rec := pacedEngine(&fakeSubmitter{}, &fakeQuoter{})

	if _, err := e.Execute(context.Background(), testIntent(core.AlgoTWAP, 100)); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	delays := rec.recorded()
	if len(delays) != 4 {
		t.Fatalf("delays=%d, expected 4 between 5 slices", len(delays))
	}
	for i, d := range delays {
		if d != e.cfg.TWAPInterval {
			t.Fatalf("delay %d=%v, expected %v", i+1, d, e.cfg.TWAPInterval)
		}
	}
}

// Plans dispatched concurrently share the engine; both must complete cleanly
// without interfering through its state.
func TestConcurrentPlansDoNotInterfere(t *testing.T) {
	sub := &fakeSubmitter{}
	e := testEngine(sub, &fakeQuoter{})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := testIntent(core.AlgoIceberg, 100)
			intent.Signal.ID = fmt.Sprintf("sig-%d", i+1)
			results[i], errs[i] = e.Execute(context.Background(), intent)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("Execute %d returned error: %v", i+1, errs[i])
		}
		if math.Abs(results[i].FilledQuantity-100) > 1e-9 {
			t.Fatalf("plan %d FilledQuantity=%v, expected 100", i+1, results[i].FilledQuantity)
		}
	}
}

// A quote drifting past the tolerance mid-plan abandons the remaining TWAP
// slices; the intent must not chase a price the approval never saw.
func TestTWAPAbandonsOnPriceDrift(t *testing.T) {
	q := &fakeQuoter{mids: []exchange.Midpoint{
		{Yes: 0.50, No: 0.50},
		{Yes: 0.50, No: 0.50},
		{Yes: 0.70, No: 0.30}, // 40% above the approved 0.50
	}}
	sub := &fakeSubmitter{}
	e := testEngine(sub, q)

	res, err := e.Execute(context.Background(), testIntent(core.AlgoTWAP, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("expected abandoned plan after drift")
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("chunks=%d, expected 2 slices before the drift", len(res.Chunks))
	}
	if math.Abs(res.FilledQuantity-40) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 40", res.FilledQuantity)
	}
}

func TestTWAPCompletesWhenStable(t *testing.T) {
	sub := &fakeSubmitter{}
	e := testEngine(sub, &fakeQuoter{})

	res, err := e.Execute(context.Background(), testIntent(core.AlgoTWAP, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Aborted {
		t.Fatalf("stable market plan must complete: %s", res.AbortReason)
	}
	if math.Abs(res.FilledQuantity-100) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 100", res.FilledQuantity)
	}
}

// A failed bracket entry must arm nothing: no protective orders exist without
// a position.
func TestBracketEntryFailureArmsNothing(t *testing.T) {
	sub := &fakeSubmitter{failCalls: map[int]bool{1: true}}
	e := testEngine(sub, &fakeQuoter{})

	res, err := e.Execute(context.Background(), testIntent(core.AlgoBracket, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Aborted {
		t.Fatalf("expected aborted bracket")
	}
	if res.FilledQuantity != 0 {
		t.Fatalf("FilledQuantity=%v, expected 0", res.FilledQuantity)
	}
	if got := sub.filledTotal(); got != 0 {
		t.Fatalf("submitted total=%v, expected no protective orders", got)
	}
}

func TestAdaptiveSelection(t *testing.T) {
	tests := []struct {
		name     string
		mid      exchange.Midpoint
		quoteErr bool
		qty      float64
		want     core.Algorithm
	}{
		{"wide spread picks sniper", exchange.Midpoint{Yes: 0.45, No: 0.48}, false, 100, core.AlgoSniper},
		{"large size picks iceberg", exchange.Midpoint{Yes: 0.50, No: 0.50}, false, 1000, core.AlgoIceberg},
		{"small tight picks market", exchange.Midpoint{Yes: 0.50, No: 0.50}, false, 100, core.AlgoMarket},
		{"no quote picks market", exchange.Midpoint{}, true, 1000, core.AlgoMarket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuoter{mids: []exchange.Midpoint{tt.mid}, errs: tt.quoteErr}
			e := testEngine(&fakeSubmitter{}, q)
			got := e.chooseAlgorithm(context.Background(), testIntent(core.AlgoAdaptive, tt.qty))
			if got != tt.want {
				t.Fatalf("chooseAlgorithm=%s, expected %s", got, tt.want)
			}
		})
	}
}

func TestSniperFiresOnTightSpread(t *testing.T) {
	sub := &fakeSubmitter{}
	e := testEngine(sub, &fakeQuoter{mids: []exchange.Midpoint{{Yes: 0.495, No: 0.50}}})

	res, err := e.Execute(context.Background(), testIntent(core.AlgoSniper, 100))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if math.Abs(res.FilledQuantity-100) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 100", res.FilledQuantity)
	}
	if len(sub.submitted) != 1 || sub.submitted[0].Type != core.OrderTypeLimit {
		t.Fatalf("tight spread must fire a limit order")
	}
}

func TestSniperHighConfidenceSkipsWait(t *testing.T) {
	sub := &fakeSubmitter{}
	e := testEngine(sub, &fakeQuoter{mids: []exchange.Midpoint{{Yes: 0.40, No: 0.50}}})

	intent := testIntent(core.AlgoSniper, 100)
	intent.Signal.Confidence = 0.85

	res, err := e.Execute(context.Background(), intent)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if math.Abs(res.FilledQuantity-100) > 1e-9 {
		t.Fatalf("FilledQuantity=%v, expected 100", res.FilledQuantity)
	}
}

func TestExecuteRejectsNonPositiveQuantity(t *testing.T) {
	e := testEngine(&fakeSubmitter{}, &fakeQuoter{})
	intent := testIntent(core.AlgoMarket, 0)

	_, err := e.Execute(context.Background(), intent)
	if !core.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
