package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qs3c/gen_go_server/internal/model/dto"
	"github.com/qs3c/gen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/gen_go_server/internal/pkg/queue"
)

var errFake = errors.New("fake failure")

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	err     error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{}}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *fakeEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeModerator struct {
	result *dto.ModerationResult
	err    error
}

func (m *fakeModerator) Check(ctx context.Context, prompt string) (*dto.ModerationResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &dto.ModerationResult{Allowed: true}, nil
}

// fakeProvider 按顺序返回脚本化结果，脚本用完后一直成功
type fakeProvider struct {
	mu       sync.Mutex
	id       string
	script   []error
	delay    time.Duration
	calls    int
	artifact string
}

func (p *fakeProvider) Generate(ctx context.Context, capability, prompt string, params map[string]interface{}) (*dto.GenerationOutput, error) {
	p.mu.Lock()
	p.calls++
	var err error
	if len(p.script) > 0 {
		err = p.script[0]
		p.script = p.script[1:]
	}
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	artifact := p.artifact
	if artifact == "" {
		artifact = "art://" + p.id
	}
	return &dto.GenerationOutput{ArtifactRef: artifact}, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeArchiver struct {
	mu      sync.Mutex
	uploads map[int64][]byte
	err     error
}

func (a *fakeArchiver) UploadManifest(requestID int64, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.uploads == nil {
		a.uploads = map[int64][]byte{}
	}
	a.uploads[requestID] = data
	return "https://cdn.example.com/manifests/x.json", nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []pubsub.ProgressMessage
}

func (p *fakePublisher) PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, *msg)
	return nil
}

func (p *fakePublisher) States(requestID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var states []string
	for _, m := range p.messages {
		if m.RequestID == requestID {
			states = append(states, m.State)
		}
	}
	return states
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.JobMessage
}

func (q *fakeEnqueuer) Push(ctx context.Context, msg *queue.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, *msg)
	return nil
}

func (q *fakeEnqueuer) Jobs() []queue.JobMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.JobMessage(nil), q.jobs...)
}
