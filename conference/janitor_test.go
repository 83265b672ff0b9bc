package conference_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-conference/conference"
)

func TestJanitor_DiscardsOnlyStaleOpenConferences(t *testing.T) {
	// GIVEN: an abandoned in-progress conference, a completed one and a fresh one
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.AddLocation(partner, 3)
	f.ledger.AddLocation(partner, 4)
	f.ledger.SetQuantity(3, 20, 1)

	abandoned, err := f.engine.CreateConference(ctx, partner, 3, operator)
	require.NoError(t, err)
	_, err = f.engine.Start(ctx, abandoned.ID)
	require.NoError(t, err)

	completed := countedConference(t, f)

	f.clock.Advance(100 * time.Hour)
	fresh, err := f.engine.CreateConference(ctx, partner, 4, operator)
	require.NoError(t, err)

	janitor := conference.NewJanitor(f.engine, nil)
	janitor.MaxAge = 72 * time.Hour

	// WHEN: a sweep runs
	run := janitor.RunNow(ctx)

	// THEN: only the stale open conference is gone
	assert.Equal(t, []conference.ConferenceID{abandoned.ID}, run.Discarded)
	assert.Zero(t, run.Failed)

	_, err = f.engine.Get(ctx, abandoned.ID)
	assert.ErrorIs(t, err, conference.ErrConferenceNotFound)
	got, err := f.engine.Get(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, conference.StatusCompleted, got.Status)
	_, err = f.engine.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	// The location is free again.
	_, err = f.engine.CreateConference(ctx, partner, 3, operator)
	assert.NoError(t, err)
}

func TestJanitor_DisabledDoesNotStart(t *testing.T) {
	f := newFixture(t)
	janitor := conference.NewJanitor(f.engine, nil)

	janitor.Start()
	janitor.Stop()

	rec, err := f.engine.CreateConference(context.Background(), partner, location, operator)
	require.NoError(t, err)
	_, err = f.engine.Get(context.Background(), rec.ID)
	assert.NoError(t, err)
}

func TestJanitor_StartRunsImmediateSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.engine.CreateConference(ctx, partner, location, operator)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	janitor := conference.NewJanitor(f.engine, nil)
	janitor.Enabled = true
	janitor.Interval = time.Hour
	janitor.MaxAge = time.Minute

	janitor.Start()
	assert.Eventually(t, func() bool {
		_, err := f.engine.Get(ctx, rec.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond)
	janitor.Stop()
}
