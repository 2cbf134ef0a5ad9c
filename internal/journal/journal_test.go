package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/owinhost/internal/registry"
	"github.com/mattjoyce/owinhost/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestJournalApps(t *testing.T) {
	j := openJournal(t)
	require.NotEmpty(t, j.RunID())

	j.RecordConfigured(registry.AppInfo{ID: 0, Name: "hello", Module: "Hello", TypeName: "Hello.Startup",
		Method: "Invoke", Source: registry.SourceHandler, Fingerprint: "abc"})
	j.RecordConfigured(registry.AppInfo{ID: 1, Name: "Hello.Startup", Source: registry.SourceStartup})

	apps, err := j.Apps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "Hello", apps[0].Module)
	assert.Equal(t, "abc", apps[0].Fingerprint)
	assert.False(t, apps[0].ConfiguredAt.IsZero())
	assert.Equal(t, registry.SourceStartup, apps[1].Source)
}

func TestJournalInvocations(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	id, err := j.SaveInvocation(ctx, registry.Invocation{
		AppID: 0, RequestID: "r1", Method: "GET", Path: "/",
		StatusCode: 200, Outcome: registry.OutcomeSucceeded, Duration: 1500 * time.Microsecond,
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	j.RecordInvocation(registry.Invocation{AppID: 0, Outcome: registry.OutcomeFaulted, Err: errors.New("boom")})
	j.RecordInvocation(registry.Invocation{AppID: -1, Outcome: registry.OutcomeRejected})

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, registry.OutcomeRejected, entries[0].Outcome)
	assert.Equal(t, "boom", entries[1].Error)
	assert.Equal(t, "r1", entries[2].RequestID)
	assert.Equal(t, 1500*time.Microsecond, entries[2].Duration)

	counts, err := j.Outcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[registry.Outcome]int{
		registry.OutcomeSucceeded: 1,
		registry.OutcomeFaulted:   1,
		registry.OutcomeRejected:  1,
	}, counts)
}

func TestJournalIsolatesRuns(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first, second := New(db), New(db)
	first.RecordInvocation(registry.Invocation{AppID: 0, Outcome: registry.OutcomeSucceeded})

	entries, err := second.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
