package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/timers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBrowserRefreshFiltersSessions(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("ListSessions", mock.Anything).Return([]directory.SessionSummary{
		{ID: "open", HostID: "host-1", CurrentCount: 1, MaxCount: 5},
		{ID: "locked", HostID: "host-2", CurrentCount: 2, MaxCount: 5, Locked: true},
		{ID: "mine", HostID: "player-1", CurrentCount: 1, MaxCount: 5},
	}, nil)

	scheduler := timers.NewScheduler(context.Background())
	defer scheduler.Close()
	browser := NewBrowser(NewBrowserOptions{
		Directory: dir,
		Scheduler: scheduler,
		PlayerID:  "player-1",
	})
	updates := &recorder[[]directory.SessionSummary]{}
	browser.Subscribe(updates.record)

	sessions, err := browser.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "open", sessions[0].ID)
	assert.Equal(t, sessions, browser.Sessions())
	assert.Len(t, updates.all(), 1)
}

func TestBrowserRefreshErrorKeepsLastResult(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("ListSessions", mock.Anything).Return([]directory.SessionSummary{{ID: "open", HostID: "host-1"}}, nil).Once()
	dir.On("ListSessions", mock.Anything).Return(nil, errors.New("unavailable")).Once()

	browser := NewBrowser(NewBrowserOptions{Directory: dir})

	_, err := browser.Refresh(context.Background())
	require.NoError(t, err)
	_, err = browser.Refresh(context.Background())
	assert.Error(t, err)

	require.Len(t, browser.Sessions(), 1)
	assert.Equal(t, "open", browser.Sessions()[0].ID)
}

func TestBrowserStartRefreshesUntilStopped(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("ListSessions", mock.Anything).Return([]directory.SessionSummary{}, nil)

	scheduler := timers.NewScheduler(context.Background())
	defer scheduler.Close()
	browser := NewBrowser(NewBrowserOptions{
		Directory: dir,
		Scheduler: scheduler,
		Interval:  10 * time.Millisecond,
	})
	updates := &recorder[[]directory.SessionSummary]{}
	browser.Subscribe(updates.record)

	browser.Start(context.Background())
	assert.Len(t, updates.all(), 1, "first refresh runs immediately")

	assert.Eventually(t, func() bool {
		return len(updates.all()) >= 3
	}, time.Second, 5*time.Millisecond)

	browser.Stop()
	// a tick already in flight may still land
	time.Sleep(20 * time.Millisecond)
	stopped := len(updates.all())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, len(updates.all()))
}
