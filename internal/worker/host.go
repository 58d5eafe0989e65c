package worker

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/metrics"
)

// State 是宿主视角的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

const maxBackoff = time.Minute

// HostOptions 控制安装重试与观测。
type HostOptions struct {
	Name string
	// MaxRetries 是首次安装失败后的额外尝试次数。
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         logrus.FieldLogger
	Metrics        *metrics.Recorder
}

// Status 是宿主状态快照，供诊断接口输出。
type Status struct {
	State           State    `json:"state"`
	SkipWaiting     bool     `json:"skip_waiting"`
	Claimed         bool     `json:"claimed"`
	InstallAttempts int      `json:"install_attempts"`
	Evicted         []string `json:"evicted,omitempty"`
	LastError       string   `json:"last_error,omitempty"`
}

// Host 驱动 Policy 的生命周期并实现 Lifecycle 回调。
// 状态由 mu 保护；调用 Policy 时不持有锁，策略可以回调 SkipWaiting/Claim。
type Host struct {
	policy Policy
	opts   HostOptions
	logger logrus.FieldLogger
	sleep  func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	state       State
	skipWaiting bool
	claimed     bool
	attempts    int
	evicted     []string
	lastErr     error
}

var _ Lifecycle = (*Host)(nil)

// NewHost 创建处于 parsed 状态的宿主。
func NewHost(policy Policy, opts HostOptions) *Host {
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Host{
		policy: policy,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
		state:  StateParsed,
	}
}

// SkipWaiting 记录跳过等待的请求，实际激活由宿主决定时机。
func (h *Host) SkipWaiting() {
	h.mu.Lock()
	h.skipWaiting = true
	h.mu.Unlock()
}

// Claim 标记宿主开始拦截请求。
func (h *Host) Claim() {
	h.mu.Lock()
	h.claimed = true
	h.mu.Unlock()
}

// Start 执行安装（含重试）；安装成功且已请求跳过等待时立即激活。
func (h *Host) Start(ctx context.Context) error {
	if !h.transition(StateParsed, StateInstalling) {
		return errors.New("host already started")
	}

	if err := h.install(ctx); err != nil {
		h.mu.Lock()
		h.state = StateRedundant
		h.lastErr = err
		h.mu.Unlock()
		h.logger.WithFields(logrus.Fields{
			"action": "worker_redundant",
			"error":  err.Error(),
		}).Error("install failed, requests will pass through")
		return err
	}

	h.mu.Lock()
	h.state = StateInstalled
	h.lastErr = nil
	ready := h.skipWaiting
	h.mu.Unlock()

	if ready {
		h.activate(ctx)
	} else {
		h.logger.WithField("action", "worker_waiting").Info("installed, waiting for SKIP_WAITING")
	}
	return nil
}

// PostMessage 把页面指令交给策略；若因此请求了跳过等待且已安装，则激活一次。
func (h *Host) PostMessage(ctx context.Context, msg Message) Status {
	h.policy.OnMessage(ctx, h, msg)

	h.mu.Lock()
	ready := h.skipWaiting && h.state == StateInstalled
	h.mu.Unlock()
	if ready {
		h.activate(ctx)
	}
	return h.Status()
}

// Fetch 只有在激活且已接管后才交给策略处理。
func (h *Host) Fetch(ctx context.Context, req *Request) (*Response, bool) {
	h.mu.Lock()
	active := h.state == StateActivated && h.claimed
	h.mu.Unlock()
	if !active {
		return nil, false
	}
	return h.policy.OnFetch(ctx, req)
}

// Wait 等待策略的后台任务完成。
func (h *Host) Wait() {
	if w, ok := h.policy.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// State 返回当前状态。
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Status 返回状态快照。
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := Status{
		State:           h.state,
		SkipWaiting:     h.skipWaiting,
		Claimed:         h.claimed,
		InstallAttempts: h.attempts,
		Evicted:         append([]string(nil), h.evicted...),
	}
	if h.lastErr != nil {
		status.LastError = h.lastErr.Error()
	}
	return status
}

func (h *Host) install(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= h.opts.MaxRetries; attempt++ {
		h.mu.Lock()
		h.attempts++
		h.mu.Unlock()

		err = h.policy.OnInstall(ctx, h)
		if err == nil {
			h.opts.Metrics.ObserveInstall(h.opts.Name, metrics.InstallSucceeded)
			return nil
		}
		h.opts.Metrics.ObserveInstall(h.opts.Name, metrics.InstallFailed)
		h.logger.WithFields(logrus.Fields{
			"action":  "worker_install",
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("install attempt failed")

		if attempt == h.opts.MaxRetries {
			break
		}
		if sleepErr := h.sleep(ctx, backoff(h.opts.InitialBackoff, attempt)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	return err
}

// activate 只会从 installed 进入一次 activating。
func (h *Host) activate(ctx context.Context) {
	if !h.transition(StateInstalled, StateActivating) {
		return
	}

	evicted, err := h.policy.OnActivate(ctx, h)

	h.mu.Lock()
	h.state = StateActivated
	h.evicted = evicted
	h.lastErr = err
	h.mu.Unlock()

	entry := h.logger.WithFields(logrus.Fields{
		"action":  "worker_activate",
		"evicted": len(evicted),
	})
	if err != nil {
		entry.WithError(err).Warn("activated with eviction errors")
		return
	}
	entry.Info("activated")
}

func (h *Host) transition(from, to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != from {
		return false
	}
	h.state = to
	return true
}

// backoff 返回第 attempt 次重试前的等待时间：base * 2^attempt，封顶 maxBackoff。
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
