package unsubscribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/imap-unsubscribe/browser"
	"github.com/dhcgn/imap-unsubscribe/model"
)

type fakeSession struct {
	navigateErr error
	found       map[string]bool // selector name -> present
	clickErr    error
	panicOnFind bool

	navigated []string
	searched  []string
	clicked   []string
	closed    int
}

func (s *fakeSession) Navigate(url string) error {
	s.navigated = append(s.navigated, url)
	return s.navigateErr
}

func (s *fakeSession) FindFirst(selectors []browser.Selector, _ time.Duration) (browser.Element, browser.Selector, error) {
	if s.panicOnFind {
		panic("driver crashed")
	}
	for _, sel := range selectors {
		s.searched = append(s.searched, sel.Name)
		if s.found[sel.Name] {
			return sel.Name, sel, nil
		}
	}
	return nil, browser.Selector{}, browser.ErrNotFound
}

func (s *fakeSession) Click(el browser.Element) error {
	s.clicked = append(s.clicked, el.(string))
	return s.clickErr
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeLauncher struct {
	session   *fakeSession
	launchErr error
	launches  int
}

func (l *fakeLauncher) Launch(context.Context) (browser.Session, error) {
	l.launches++
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	return l.session, nil
}

func newBrowserStrategy(l *fakeLauncher) *BrowserStrategy {
	b := NewBrowserStrategy(l, BrowserOptions{WaitTimeout: time.Millisecond, SettleDelay: 2 * time.Second}, nil)
	b.sleep = func(context.Context, time.Duration) {}
	return b
}

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStrategy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "200 is success", status: http.StatusOK, want: true},
		{name: "204 is failure", status: http.StatusNoContent, want: false},
		{name: "500 is failure", status: http.StatusInternalServerError, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := statusServer(t, tt.status)
			h := NewHTTPStrategy(time.Second, nil)
			assert.Equal(t, tt.want, h.Attempt(context.Background(), model.Candidate{URL: srv.URL}))
		})
	}
}

func TestHTTPStrategy_TransportErrors(t *testing.T) {
	h := NewHTTPStrategy(50*time.Millisecond, nil)

	assert.False(t, h.Attempt(context.Background(), model.Candidate{URL: "://bad url"}))
	assert.False(t, h.Attempt(context.Background(), model.Candidate{URL: "http://127.0.0.1:1/unsubscribe"}))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()
	assert.False(t, h.Attempt(context.Background(), model.Candidate{URL: slow.URL}))
}

func TestBrowserStrategy_ClicksFirstInPriorityOrder(t *testing.T) {
	session := &fakeSession{found: map[string]bool{"link": true, "submit": true}}
	l := &fakeLauncher{session: session}

	ok := newBrowserStrategy(l).Attempt(context.Background(), model.Candidate{URL: "http://x.test/u"})

	assert.True(t, ok)
	assert.Equal(t, []string{"http://x.test/u"}, session.navigated)
	assert.Equal(t, []string{"button", "link"}, session.searched)
	assert.Equal(t, []string{"link"}, session.clicked)
	assert.Equal(t, 1, session.closed)
}

func TestBrowserStrategy_Failures(t *testing.T) {
	tests := []struct {
		name      string
		launcher  *fakeLauncher
		wantClose int
	}{
		{
			name:      "nothing found",
			launcher:  &fakeLauncher{session: &fakeSession{}},
			wantClose: 1,
		},
		{
			name:      "navigation error",
			launcher:  &fakeLauncher{session: &fakeSession{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}},
			wantClose: 1,
		},
		{
			name:      "click error",
			launcher:  &fakeLauncher{session: &fakeSession{found: map[string]bool{"button": true}, clickErr: errors.New("detached")}},
			wantClose: 1,
		},
		{
			name:      "panic in driver",
			launcher:  &fakeLauncher{session: &fakeSession{panicOnFind: true}},
			wantClose: 1,
		},
		{
			name:      "launch error",
			launcher:  &fakeLauncher{launchErr: errors.New("chrome not found"), session: &fakeSession{}},
			wantClose: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ok bool
			require.NotPanics(t, func() {
				ok = newBrowserStrategy(tt.launcher).Attempt(context.Background(), model.Candidate{URL: "http://x.test/u"})
			})
			assert.False(t, ok)
			assert.Equal(t, tt.wantClose, tt.launcher.session.closed)
		})
	}
}

func TestExecutor_SkipsBrowserAfterHTTPSuccess(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	l := &fakeLauncher{session: &fakeSession{found: map[string]bool{"button": true}}}
	e := NewExecutor(nil, NewHTTPStrategy(time.Second, nil), newBrowserStrategy(l))

	out := e.Execute(context.Background(), model.Candidate{URL: srv.URL, Sender: "a@b.com", Subject: "Promo"})

	assert.True(t, out.Success)
	assert.Equal(t, "http", out.Strategy)
	assert.Equal(t, 0, l.launches)
}

func TestExecutor_FallsBackToBrowser(t *testing.T) {
	srv := statusServer(t, http.StatusInternalServerError)
	l := &fakeLauncher{session: &fakeSession{found: map[string]bool{"button": true}}}
	e := NewExecutor(nil, NewHTTPStrategy(time.Second, nil), newBrowserStrategy(l))

	out := e.Execute(context.Background(), model.Candidate{URL: srv.URL, Sender: "a@b.com", Subject: "Promo"})

	assert.True(t, out.Success)
	assert.Equal(t, "browser", out.Strategy)
	assert.Equal(t, 1, l.launches)
	assert.Equal(t, []string{"button"}, l.session.clicked)
}

func TestExecutor_BothTiersFail(t *testing.T) {
	srv := statusServer(t, http.StatusNotFound)
	l := &fakeLauncher{session: &fakeSession{}}
	e := NewExecutor(nil, NewHTTPStrategy(time.Second, nil), newBrowserStrategy(l))

	var out model.Outcome
	require.NotPanics(t, func() {
		out = e.Execute(context.Background(), model.Candidate{URL: srv.URL, Sender: "a@b.com", Subject: "Promo"})
	})

	assert.False(t, out.Success)
	assert.Empty(t, out.Strategy)
	assert.Equal(t, srv.URL, out.URL)
	assert.Equal(t, "a@b.com", out.Sender)
	assert.Equal(t, "Promo", out.Subject)
}

func TestExecutor_ExecuteAllKeepsCardinalityAndOrder(t *testing.T) {
	ok := statusServer(t, http.StatusOK)
	bad := statusServer(t, http.StatusBadGateway)
	e := NewExecutor(nil, NewHTTPStrategy(time.Second, nil))

	candidates := []model.Candidate{
		{URL: ok.URL + "/1", Subject: "one"},
		{URL: bad.URL + "/2", Subject: "two"},
		{URL: "not a url", Subject: "three"},
		{URL: ok.URL + "/4", Subject: "four"},
	}

	var seen int
	outcomes := e.ExecuteAll(context.Background(), candidates, func(model.Outcome) { seen++ })

	require.Len(t, outcomes, len(candidates))
	assert.Equal(t, len(candidates), seen)
	for i, c := range candidates {
		assert.Equal(t, c.URL, outcomes[i].URL)
		assert.Equal(t, c.Subject, outcomes[i].Subject)
	}
	assert.Equal(t, []bool{true, false, false, true}, []bool{outcomes[0].Success, outcomes[1].Success, outcomes[2].Success, outcomes[3].Success})
}
