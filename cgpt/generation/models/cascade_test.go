package models

import (
	"context"
	"errors"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/coffee-gpt/cgpt"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return ports.Completion{}, err
	}
	if f.err != nil {
		return ports.Completion{}, f.err
	}
	return ports.Completion{Text: f.text}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return singleChunk(ports.Completion{Text: f.text}, nil), nil
}

func userPrompt(text string) ports.PromptInput {
	return ports.PromptInput{Messages: []ports.PromptMessage{{Role: "user", Content: text}}}
}

func TestCascade_FallsThroughToHealthyProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	backup := &fakeProvider{name: "backup", text: "espresso"}
	c := NewCascade([]ports.NamedProvider{primary, backup})

	got, err := c.Complete(context.Background(), userPrompt("hi"), ports.Options{})
	require.NoError(t, err)
	assert.Equal(t, "espresso", got.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)

	health := c.Health()
	assert.False(t, health["primary"].IsHealthy)
	assert.Equal(t, []string{"boom"}, health["primary"].ErrorMessages)
	assert.True(t, health["backup"].IsHealthy)
	assert.Equal(t, int64(1), health["backup"].SuccessCalls)
}

func TestCascade_RanksFailedProviderLastDuringCooldown(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	backup := &fakeProvider{name: "backup", text: "ok"}
	c := NewCascade([]ports.NamedProvider{primary, backup}, WithCascadeCooldown(time.Minute))

	_, err := c.Complete(context.Background(), userPrompt("one"), ports.Options{})
	require.NoError(t, err)

	primary.err = nil
	primary.text = "primary again"
	got, err := c.Complete(context.Background(), userPrompt("two"), ports.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, 1, primary.calls, "primary is skipped while cooling down")
}

func TestCascade_RetriesAfterCooldown(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	backup := &fakeProvider{name: "backup", err: errors.New("also down")}
	c := NewCascade([]ports.NamedProvider{primary, backup}, WithCascadeCooldown(time.Minute))

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Complete(context.Background(), userPrompt("one"), ports.Options{})
	require.Error(t, err)

	primary.err = nil
	primary.text = "back"
	now = now.Add(2 * time.Minute)

	got, err := c.Complete(context.Background(), userPrompt("two"), ports.Options{})
	require.NoError(t, err)
	assert.Equal(t, "back", got.Text)
}

func TestCascade_AllFailed(t *testing.T) {
	c := NewCascade([]ports.NamedProvider{
		&fakeProvider{name: "a", err: errors.New("a down")},
		&fakeProvider{name: "b", err: errors.New("b down")},
	})

	_, err := c.Complete(context.Background(), userPrompt("hi"), ports.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, internal.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "b down")
}

func TestCascade_StopsOnCancellation(t *testing.T) {
	primary := &fakeProvider{name: "primary", text: "never"}
	backup := &fakeProvider{name: "backup", text: "never"}
	c := NewCascade([]ports.NamedProvider{primary, backup})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, userPrompt("hi"), ports.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backup.calls)
}

func TestCascade_Stream(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("no stream")}
	backup := &fakeProvider{name: "backup", text: "latte"}
	c := NewCascade([]ports.NamedProvider{primary, backup})

	ch, err := c.Stream(context.Background(), userPrompt("hi"), ports.Options{})
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.DeltaText
	}
	assert.Equal(t, "latte", text)
	assert.Eventually(t, func() bool {
		return c.Health()["backup"].SuccessCalls == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCascade_Name(t *testing.T) {
	c := NewCascade([]ports.NamedProvider{&fakeProvider{name: "a"}, &fakeProvider{name: "b"}})
	assert.Equal(t, "cascade(a,b)", c.Name())
}
