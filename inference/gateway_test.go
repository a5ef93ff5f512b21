package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/maskflow/internal/ctxkeys"
	"github.com/BaSui01/maskflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeBackend 通过回调函数模拟检测器
type fakeBackend struct {
	detect func(ctx context.Context, image string) (*types.DetectionResult, error)
	check  func(ctx context.Context) (string, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Detect(ctx context.Context, image string) (*types.DetectionResult, error) {
	return f.detect(ctx, image)
}

func (f *fakeBackend) Check(ctx context.Context) (string, error) {
	if f.check == nil {
		return "ok", nil
	}
	return f.check(ctx)
}

func okResult() *types.DetectionResult {
	stats := types.ComputeStats([]types.Detection{{Class: types.ClassMasked}})
	return &types.DetectionResult{
		Success:    true,
		Detections: []types.Detection{{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.8, Class: types.ClassMasked, Label: "Maskeli", Color: "#22C55E"}},
		Stats:      &stats,
	}
}

// =============================================================================
// 🧪 Gateway 测试
// =============================================================================

func TestGateway_SuccessReturnsResultUnchanged(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	want := okResult()
	g := NewGateway(&fakeBackend{detect: func(ctx context.Context, image string) (*types.DetectionResult, error) {
		assert.Equal(t, "QUJD", image)
		return want, nil
	}}, WithGatewayLogger(zap.NewNop()))

	resp := g.Call(ctxkeys.WithSource(context.Background(), ctxkeys.SourceUpload), "QUJD", time.Second)
	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Same(t, want, resp.Result)
}

func TestGateway_TimeoutWhenBackendIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	g := NewGateway(&fakeBackend{detect: func(context.Context, string) (*types.DetectionResult, error) {
		<-release
		return okResult(), nil
	}})

	timeout := 100 * time.Millisecond
	start := time.Now()
	res := g.Infer(context.Background(), "QUJD", timeout)
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, MsgTimeout, res.Error)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
}

func TestGateway_ClassifiesBackendErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOutcome Outcome
		wantMsg     string
	}{
		{
			name:        "abnormal exit",
			err:         types.NewError(types.ErrProcessExit, "detector process exited with code 1: model load failed"),
			wantOutcome: OutcomeProcessError,
			wantMsg:     "model load failed",
		},
		{name: "parse", err: parseError("fake", errors.New("bad json")), wantOutcome: OutcomeParseError, wantMsg: MsgParseFailure},
		{
			name:        "startup",
			err:         types.NewError(types.ErrStartupFailure, "Failed to start detector process: exec: not found"),
			wantOutcome: OutcomeStartupError,
			wantMsg:     "Failed to start",
		},
		{name: "timeout", err: timeoutError("fake", context.DeadlineExceeded), wantOutcome: OutcomeTimeout, wantMsg: "timeout"},
		{name: "plain error", err: errors.New("socket closed"), wantOutcome: OutcomeProcessError, wantMsg: "socket closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(&fakeBackend{detect: func(context.Context, string) (*types.DetectionResult, error) {
				return nil, tt.err
			}})
			resp := g.Call(context.Background(), "QUJD", time.Second)
			assert.Equal(t, tt.wantOutcome, resp.Outcome)
			assert.False(t, resp.Result.Success)
			assert.Contains(t, resp.Result.Error, tt.wantMsg)
			assert.Empty(t, resp.Result.Detections)
		})
	}
}

func TestGateway_NilResultIsParseFailure(t *testing.T) {
	g := NewGateway(&fakeBackend{detect: func(context.Context, string) (*types.DetectionResult, error) {
		return nil, nil
	}})
	resp := g.Call(context.Background(), "QUJD", time.Second)
	assert.Equal(t, OutcomeParseError, resp.Outcome)
	assert.Equal(t, MsgEmptyResponse, resp.Result.Error)
}

func TestGateway_RecoversBackendPanic(t *testing.T) {
	g := NewGateway(&fakeBackend{detect: func(context.Context, string) (*types.DetectionResult, error) {
		panic("cuda out of memory")
	}})
	resp := g.Call(context.Background(), "QUJD", time.Second)
	assert.Equal(t, OutcomeInternal, resp.Outcome)
	assert.Equal(t, MsgBackendPanic, resp.Result.Error)
}

func TestGateway_ParentCancellation(t *testing.T) {
	g := NewGateway(&fakeBackend{detect: func(ctx context.Context, _ string) (*types.DetectionResult, error) {
		<-ctx.Done()
		return nil, types.NewError(types.ErrTimeout, MsgCanceled).WithCause(ctx.Err())
	}})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	resp := g.Call(ctx, "QUJD", 5*time.Second)
	assert.Equal(t, OutcomeCanceled, resp.Outcome)
	assert.Equal(t, MsgCanceled, resp.Result.Error)
	assert.Less(t, resp.Duration, time.Second)
}

func TestGateway_NoConcurrencyLimitByDefault(t *testing.T) {
	var inflight, peak atomic.Int32
	gate := make(chan struct{})

	g := NewGateway(&fakeBackend{detect: func(context.Context, string) (*types.DetectionResult, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		inflight.Add(-1)
		return okResult(), nil
	}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Infer(context.Background(), "QUJD", 2*time.Second)
		}()
	}

	require.Eventually(t, func() bool { return inflight.Load() == 4 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()
	assert.Equal(t, int32(4), peak.Load())
}

func TestGateway_MaxConcurrent(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32

	g := NewGateway(&fakeBackend{detect: func(context.Context, string) (*types.DetectionResult, error) {
		calls.Add(1)
		<-gate
		return okResult(), nil
	}}, WithMaxConcurrent(1))

	first := make(chan *types.DetectionResult, 1)
	go func() { first <- g.Infer(context.Background(), "A", 2*time.Second) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 第二个调用等不到槽位，在自己的超时内返回
	res := g.Infer(context.Background(), "B", 100*time.Millisecond)
	assert.Equal(t, MsgTimeout, res.Error)
	assert.Equal(t, int32(1), calls.Load())

	close(gate)
	assert.True(t, (<-first).Success)

	// 槽位已释放
	res = g.Infer(context.Background(), "C", time.Second)
	assert.True(t, res.Success)
}

func TestGateway_Check(t *testing.T) {
	g := NewGateway(&fakeBackend{check: func(context.Context) (string, error) {
		return "", errors.New("python: not found")
	}})
	_, err := g.Check(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "fake", g.Backend().Name())
}

// 任意后端行为下，每次调用恰好产生一个结果
func TestGateway_ExactlyOneOutcomeProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		kind := rapid.SampledFrom([]string{"ok", "exit", "parse", "startup", "nil", "plain", "slow", "panic"}).Draw(rt, "kind")
		want := okResult()

		g := NewGateway(&fakeBackend{detect: func(ctx context.Context, _ string) (*types.DetectionResult, error) {
			switch kind {
			case "ok":
				return want, nil
			case "exit":
				return nil, types.NewError(types.ErrProcessExit, "exited with code 2: boom")
			case "parse":
				return nil, parseError("fake", errors.New("x"))
			case "startup":
				return nil, types.NewError(types.ErrStartupFailure, "Failed to start detector process: denied")
			case "nil":
				return nil, nil
			case "plain":
				return nil, errors.New("broken pipe")
			case "slow":
				<-ctx.Done()
				return want, nil
			default:
				panic("boom")
			}
		}})

		resp := g.Call(context.Background(), "QUJD", 30*time.Millisecond)
		if resp.Result == nil {
			rt.Fatalf("nil result for %s", kind)
		}
		if resp.Outcome == OutcomeSuccess {
			if resp.Result != want {
				rt.Fatalf("success must forward backend result unchanged")
			}
			return
		}
		if resp.Result.Success || resp.Result.Error == "" {
			rt.Fatalf("failure outcome %s must carry exactly one error, got %+v", resp.Outcome, resp.Result)
		}
		if kind == "ok" {
			rt.Fatalf("ok backend produced %s", resp.Outcome)
		}
	})
}
