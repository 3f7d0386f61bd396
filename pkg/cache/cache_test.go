package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/gwtypes"
)

// inlineRunner runs tasks synchronously so write tests don't need to
// sleep/poll for the background goroutine to finish.
type inlineRunner struct{}

func (inlineRunner) Go(name string, fn func() error) { _ = fn() }

func textResponse(text string) gwtypes.ProviderResponse {
	return gwtypes.ProviderResponse{
		ID:           "resp_1",
		Output:       []gwtypes.ContentBlockOutput{{Kind: gwtypes.ContentText, Text: text}},
		FinishReason: gwtypes.FinishStop,
		Latency:      250 * time.Millisecond,
	}
}

func TestFingerprint_IdenticalInputsProduceIdenticalHash(t *testing.T) {
	body := map[string]interface{}{"messages": []interface{}{"hi"}, "temperature": 0.0}
	f1 := Fingerprint("gpt-4o", "openai-primary", body, nil)
	f2 := Fingerprint("gpt-4o", "openai-primary", body, nil)
	assert.Equal(t, f1, f2)
}

func TestFingerprint_DifferentProviderNameChangesHash(t *testing.T) {
	body := map[string]interface{}{"messages": []interface{}{"hi"}}
	f1 := Fingerprint("gpt-4o", "openai-primary", body, nil)
	f2 := Fingerprint("gpt-4o", "openai-secondary", body, nil)
	assert.NotEqual(t, f1, f2)
}

func TestFingerprint_ToolConfigAffectsHash(t *testing.T) {
	body := map[string]interface{}{"messages": []interface{}{"hi"}}
	tc := &gwtypes.ToolConfig{Tools: []gwtypes.ToolDef{{Name: "get_weather"}}}
	f1 := Fingerprint("gpt-4o", "openai-primary", body, nil)
	f2 := Fingerprint("gpt-4o", "openai-primary", body, tc)
	assert.NotEqual(t, f1, f2)
}

func TestPort_UnaryMissThenHit(t *testing.T) {
	store := NewMemoryStore(0, 0)
	port := NewPort(store)
	mode := Mode{EnabledRead: true, EnabledWrite: true}
	fp := "fp-1"

	_, hit := port.LookupUnary(fp, mode)
	assert.False(t, hit)

	port.WriteUnary(inlineRunner{}, fp, textResponse("Paris"), mode)

	resp, hit := port.LookupUnary(fp, mode)
	require.True(t, hit)
	assert.True(t, resp.Cached)
	assert.EqualValues(t, 0, resp.Latency)
	assert.Equal(t, "Paris", resp.Output[0].Text)
}

func TestPort_WriteSkippedWhenWriteDisabled(t *testing.T) {
	store := NewMemoryStore(0, 0)
	port := NewPort(store)
	mode := Mode{EnabledRead: true, EnabledWrite: false}

	port.WriteUnary(inlineRunner{}, "fp-2", textResponse("x"), mode)

	_, hit := port.LookupUnary("fp-2", Mode{EnabledRead: true})
	assert.False(t, hit)
}

func TestPort_ReadDisabledAlwaysMisses(t *testing.T) {
	store := NewMemoryStore(0, 0)
	port := NewPort(store)

	port.WriteUnary(inlineRunner{}, "fp-3", textResponse("x"), Mode{EnabledWrite: true})

	_, hit := port.LookupUnary("fp-3", Mode{EnabledRead: false})
	assert.False(t, hit)
}

func TestPort_AlreadyCachedResponseIsNotReWritten(t *testing.T) {
	store := NewMemoryStore(0, 0)
	port := NewPort(store)
	mode := Mode{EnabledRead: true, EnabledWrite: true}

	resp := textResponse("x")
	resp.Cached = true
	port.WriteUnary(inlineRunner{}, "fp-4", resp, mode)

	_, hit := port.LookupUnary("fp-4", mode)
	assert.False(t, hit)
}

func TestPort_MaxAgeExpiresEntry(t *testing.T) {
	store := NewMemoryStore(0, 0)
	port := NewPort(store)
	mode := Mode{EnabledRead: true, EnabledWrite: true}

	port.WriteUnary(inlineRunner{}, "fp-5", textResponse("x"), mode)
	time.Sleep(20 * time.Millisecond)

	maxAgeS := 0 // effectively zero-tolerance
	_, hit := port.LookupUnary("fp-5", Mode{EnabledRead: true, MaxAgeS: &maxAgeS})
	assert.False(t, hit)
}

func TestPort_StreamingReplayZeroesLatencyAndKeepsLastFinishReasonOnly(t *testing.T) {
	store := NewMemoryStore(0, 0)
	port := NewPort(store)
	mode := Mode{EnabledRead: true, EnabledWrite: true}

	finish := gwtypes.FinishStop
	chunks := []gwtypes.StreamChunk{
		{Content: []gwtypes.ContentChunk{{Kind: gwtypes.ChunkText, Text: "Hel"}}, Latency: 10 * time.Millisecond},
		{Content: []gwtypes.ContentChunk{{Kind: gwtypes.ChunkText, Text: "lo"}}, Latency: 15 * time.Millisecond, FinishReason: &finish},
	}
	usage := gwtypes.Usage{}
	port.WriteStreaming(inlineRunner{}, "fp-6", chunks, `{"model":"x"}`, usage, nil, mode)

	replayed, hit := port.LookupStreaming("fp-6", mode)
	require.True(t, hit)
	require.Len(t, replayed, 2)
	assert.Nil(t, replayed[0].FinishReason)
	assert.EqualValues(t, 0, replayed[0].Latency)
	require.NotNil(t, replayed[1].FinishReason)
	assert.Equal(t, gwtypes.FinishStop, *replayed[1].FinishReason)
	assert.EqualValues(t, 0, replayed[1].Latency)
	assert.True(t, replayed[0].Cached)
	assert.True(t, replayed[1].Cached)
}

func TestMemoryStore_EvictsOldestWhenAtCapacity(t *testing.T) {
	store := NewMemoryStore(0, 2)

	store.WriteUnary("a", Entry{Response: textResponse("a"), CreatedAt: time.Now()})
	time.Sleep(time.Millisecond)
	store.WriteUnary("b", Entry{Response: textResponse("b"), CreatedAt: time.Now()})
	time.Sleep(time.Millisecond)
	store.WriteUnary("c", Entry{Response: textResponse("c"), CreatedAt: time.Now()})

	_, hitA := store.LookupUnary("a", nil)
	_, hitC := store.LookupUnary("c", nil)
	assert.False(t, hitA)
	assert.True(t, hitC)
}

func TestMemoryStore_ConcurrentAccessIsSafe(t *testing.T) {
	store := NewMemoryStore(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.WriteUnary("fp", Entry{Response: textResponse("x"), CreatedAt: time.Now()})
			store.LookupUnary("fp", nil)
		}(i)
	}
	wg.Wait()
}

func TestWritePanicIsRecoveredAndLogged(t *testing.T) {
	store := &panicOnWriteStore{}
	port := NewPort(store)
	mode := Mode{EnabledWrite: true}

	assert.NotPanics(t, func() {
		port.WriteUnary(syncRunner{}, "fp", textResponse("x"), mode)
	})
}

// syncRunner runs the task inline and lets any panic inside fn surface
// to Go's recover within the cache package itself (not the runner),
// matching how tasktracker.Tracker.Go would run it in-process.
type syncRunner struct{}

func (syncRunner) Go(name string, fn func() error) { _ = fn() }

type panicOnWriteStore struct{}

func (panicOnWriteStore) LookupUnary(string, *time.Duration) (*Entry, bool) { return nil, false }
func (panicOnWriteStore) WriteUnary(string, Entry)                         { panic("boom") }
func (panicOnWriteStore) LookupStreaming(string, *time.Duration) (*StreamEntry, bool) {
	return nil, false
}
func (panicOnWriteStore) WriteStreaming(string, StreamEntry) { panic("boom") }
