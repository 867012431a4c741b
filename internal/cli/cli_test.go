package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poetate/api/internal/realtime"
	"poetate/api/pkg/client"
	"poetate/api/pkg/domain"
)

type fakeAPI struct {
	mu          sync.Mutex
	annotations []domain.Annotation
	hub         *realtime.Hub
	openConns   atomic.Int32
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{hub: realtime.NewHub()}
	ws := realtime.NewHandler(api.hub, 8, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		api.openConns.Add(1)
		defer api.openConns.Add(-1)
		ws.ServeHTTP(w, r)
	})
	mux.HandleFunc("/api/poems/poem_1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.Poem{ID: "poem_1", Title: "Sonnet", Content: "Shall I compare thee to a summer's day"}) //nolint:errcheck
	})
	mux.HandleFunc("/api/annotations/poem_1", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		json.NewEncoder(w).Encode(api.annotations) //nolint:errcheck
	})
	mux.HandleFunc("/api/annotations", func(w http.ResponseWriter, r *http.Request) {
		var draft domain.AnnotationDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		created := domain.Annotation{
			ID:          "ann_1",
			EphemeralID: draft.EphemeralID,
			PoemID:      draft.PoemID,
			Text:        draft.Text,
			Anchors:     draft.Anchors,
			ColorTag:    draft.ColorTag,
		}
		api.mu.Lock()
		api.annotations = append(api.annotations, created)
		api.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created) //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.Execute())
	return out.String()
}

func TestListPrintsAnnotations(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.annotations = []domain.Annotation{{ID: "ann_9", PoemID: "poem_1", Text: "volta", Anchors: []int{3}}}

	out := execute(t, "--server", srv.URL, "list", "poem_1")

	var items []domain.Annotation
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "ann_9", items[0].ID)
}

func TestAnnotateBroadcastsToRoom(t *testing.T) {
	api, srv := newFakeAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := client.New(srv.URL, "").Channel(ctx)
	require.NoError(t, err)
	defer peer.Close() //nolint:errcheck
	require.NoError(t, peer.Join(ctx, "poem_1"))
	require.Eventually(t, func() bool { return api.hub.Members("poem_1") == 1 }, 2*time.Second, 10*time.Millisecond)

	out := execute(t, "--server", srv.URL, "annotate", "poem_1", "--text", "a question", "--anchors", "0,1")

	var created domain.Annotation
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "ann_1", created.ID)
	assert.Equal(t, []int{0, 1}, created.Anchors)

	select {
	case env := <-peer.Events():
		assert.Equal(t, domain.EventNewAnnotation, env.Event)
		var payload domain.NewAnnotationEvent
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, "ann_1", payload.ID)
		assert.Equal(t, "a question", payload.Text)
	case <-ctx.Done():
		t.Fatal("peer never received new-annotation")
	}
}

func TestFailedAnnotateClosesChannel(t *testing.T) {
	api, srv := newFakeAPI(t)

	var out, errOut bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&errOut)
	RootCmd.SetArgs([]string{"--server", srv.URL, "annotate", "poem_1", "--text", "too far", "--anchors", "99"})
	err := RootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "annotate")
	assert.Empty(t, out.String())

	require.Eventually(t, func() bool { return api.openConns.Load() == 0 }, 2*time.Second, 10*time.Millisecond,
		"the realtime channel must be closed when the command fails")
	assert.Empty(t, api.annotations)
}

func TestServerFromEnv(t *testing.T) {
	serverFlag = ""
	t.Setenv("POETATE_SERVER", "http://poems.test")
	assert.Equal(t, "http://poems.test", getServer())

	t.Setenv("POETATE_SERVER", "")
	assert.Equal(t, "http://localhost:5000", getServer())
}
