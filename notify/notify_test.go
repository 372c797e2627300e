package notify

import (
	"testing"

	"github.com/always-cache/offline-cache/clients"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindows struct {
	clients []clients.Client
	focused []string
	opened  []string
}

func (f *fakeWindows) MatchAll() []clients.Client { return f.clients }

func (f *fakeWindows) Focus(id string) error {
	f.focused = append(f.focused, id)
	return nil
}

func (f *fakeWindows) OpenWindow(url string) {
	f.opened = append(f.opened, url)
}

func TestParsePush(t *testing.T) {
	p, err := ParsePush([]byte(`{"title":"Done","message":"Your CV is ready"}`))
	require.NoError(t, err)
	assert.Equal(t, Payload{Title: "Done", Message: "Your CV is ready"}, p)

	_, err = ParsePush(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = ParsePush([]byte(`{"title":`))
	assert.Error(t, err)
}

func TestPushShowsNotification(t *testing.T) {
	r := NewRelay(&fakeWindows{}, zerolog.Nop())
	n, err := r.Push([]byte(`{"title":"Done","message":"Your CV is ready"}`))
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "Done", n.Title)
	assert.Equal(t, "Your CV is ready", n.Body)
	assert.Equal(t, Tag, n.Tag)
	assert.Equal(t, Icon, n.Icon)
	assert.Equal(t, Icon, n.Badge)
	assert.True(t, n.Renotify)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, ActionOpen, n.Actions[0].Action)
	assert.Equal(t, ActionDismiss, n.Actions[1].Action)
	assert.Equal(t, []Notification{n}, r.Shown())
}

func TestClickOpenFocusesRootWindow(t *testing.T) {
	w := &fakeWindows{clients: []clients.Client{
		{ID: "a", URL: "/result/1"},
		{ID: "b", URL: "/"},
	}}
	r := NewRelay(w, zerolog.Nop())
	n := r.Show(Payload{Title: "t"})

	require.NoError(t, r.Click(n.ID, ActionOpen))
	assert.Equal(t, []string{"b"}, w.focused)
	assert.Empty(t, w.opened)
	assert.Empty(t, r.Shown())
}

func TestClickOpenWithoutRootWindowOpensOne(t *testing.T) {
	w := &fakeWindows{clients: []clients.Client{{ID: "a", URL: "/result/1"}}}
	r := NewRelay(w, zerolog.Nop())
	n := r.Show(Payload{Title: "t"})

	require.NoError(t, r.Click(n.ID, ActionOpen))
	assert.Empty(t, w.focused)
	assert.Equal(t, []string{"/"}, w.opened)
}

func TestClickDismissOnlyCloses(t *testing.T) {
	for _, action := range []string{ActionDismiss, ""} {
		w := &fakeWindows{clients: []clients.Client{{ID: "b", URL: "/"}}}
		r := NewRelay(w, zerolog.Nop())
		n := r.Show(Payload{Title: "t"})

		require.NoError(t, r.Click(n.ID, action))
		assert.Empty(t, w.focused)
		assert.Empty(t, w.opened)
		assert.Empty(t, r.Shown())
	}
}
