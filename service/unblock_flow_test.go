package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/guardian/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmRemovalWithLiveChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "xk2mfq91pz")
	env.fetcher.txs["0xok"] = approvalTx(t, env.guardian, "0xok", "xk2mfq91pz")

	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0xok",
		ClaimedAddress: env.guardianAddress(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeVerified, res.Outcome)
	assert.Equal(t, "Verified! Site removed.", res.Status())

	state := env.state(t)
	assert.Empty(t, state.Sites)
	assert.NotContains(t, state.Challenges, "casino.com")
	assert.Equal(t, []string{"casino.com"}, env.publisher.unblocked)

	streak, err := env.recovery.Current(ctx)
	require.NoError(t, err)
	assert.False(t, streak.StartDate.IsZero())
	assert.Equal(t, 0, streak.Count)
}

func TestConfirmRemovalRejections(t *testing.T) {
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		prepare func(t *testing.T, env *testEnv) RemovalConfirmation
		want    core.Outcome
	}{
		{
			name: "signer mismatch",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.txs["0x1"] = approvalTx(t, other, "0x1", "msg1")
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeSignerMismatch,
		},
		{
			name: "message mismatch",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "stale")
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeMessageMismatch,
		},
		{
			name: "no input data",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.txs["0x1"] = &core.Transaction{Hash: "0x1", Input: "0x"}
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeNoInputData,
		},
		{
			name: "decode failed",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.txs["0x1"] = &core.Transaction{Hash: "0x1", Input: "0x0102"}
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeDecodeFailed,
		},
		{
			name: "unknown transaction",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				return RemovalConfirmation{Site: "casino.com", TxHash: "0xmissing", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeFetchError,
		},
		{
			name: "fetcher failure",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.err = errors.New("rpc down")
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeFetchError,
		},
		{
			name: "fetch timeout",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.flow.cfg.FetchTimeout = 10 * time.Millisecond
				env.fetcher.before = func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				}
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeFetchTimeout,
		},
		{
			name: "site not blocked",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")
				return RemovalConfirmation{Site: "poker.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress()}
			},
			want: core.OutcomeUnknownSite,
		},
		{
			name: "garbage ticket",
			prepare: func(t *testing.T, env *testEnv) RemovalConfirmation {
				env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")
				return RemovalConfirmation{Site: "casino.com", TxHash: "0x1", ClaimedAddress: env.guardianAddress(), Ticket: "not-a-token"}
			},
			want: core.OutcomeTicketRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.block(t, "casino.com", "msg1")
			before := env.state(t)

			res, err := env.flow.ConfirmRemoval(context.Background(), tt.prepare(t, env))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.False(t, res.Verified())

			after := env.state(t)
			assert.Equal(t, before.Sites, after.Sites)
			assert.Equal(t, before.Challenges, after.Challenges)
			assert.Empty(t, env.publisher.unblocked)
		})
	}
}

func TestConfirmRemovalWithoutChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	_, err := env.store.Update(ctx, func(state *core.State) error {
		delete(state.Challenges, "casino.com")
		return nil
	})
	require.NoError(t, err)

	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{Site: "casino.com", TxHash: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNoChallenge, res.Outcome)
}

func TestRotationDuringVerificationWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")

	env.flow.generate = sequence("msg2")
	env.fetcher.before = func(ctx context.Context) error {
		return env.flow.RotateChallenges(ctx)
	}

	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeMessageMismatch, res.Outcome)

	state := env.state(t)
	assert.Len(t, state.Sites, 1)
	assert.Equal(t, "msg2", state.Challenges["casino.com"])
}

func TestTicketPinsMessageAcrossRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	_, err := env.sites.SetGuardian(ctx, env.guardianAddress())
	require.NoError(t, err)

	prompt, err := env.flow.RequestRemoval(ctx, "https://www.casino.com/")
	require.NoError(t, err)
	assert.Equal(t, "casino.com", prompt.Site)
	assert.Equal(t, "msg1", prompt.Message)
	assert.Equal(t, env.guardianAddress(), prompt.GuardianAddress)
	assert.NotEmpty(t, prompt.Ticket)

	env.flow.generate = sequence("msg2")
	require.NoError(t, env.flow.RotateChallenges(ctx))
	assert.Equal(t, "msg2", env.state(t).Challenges["casino.com"])

	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")
	confirmation := RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         prompt.Ticket,
	}
	res, err := env.flow.ConfirmRemoval(ctx, confirmation)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeVerified, res.Outcome)
	assert.Empty(t, env.state(t).Sites)

	// Re-blocking the site does not let the old ticket and transaction through again
	env.block(t, "casino.com", "msg3")
	res, err = env.flow.ConfirmRemoval(ctx, confirmation)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeTicketRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrTicketConsumed)
	assert.Len(t, env.state(t).Sites, 1)
}

func TestTicketRejectedForOtherSite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	env.block(t, "poker.com", "msg1")

	prompt, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)

	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")
	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "poker.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         prompt.Ticket,
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeTicketRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrInvalidTicket)
}

func TestTicketRejectedAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")

	prompt, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)

	env.flow.now = func() time.Time { return time.Now().Add(time.Hour) }
	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")
	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         prompt.Ticket,
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeTicketRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrTicketExpired)
}

func TestRequestRemoval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.flow.RequestRemoval(ctx, "casino.com")
	assert.ErrorIs(t, err, core.ErrSiteNotBlocked)
	_, err = env.flow.RequestRemoval(ctx, " ")
	assert.ErrorIs(t, err, core.ErrInvalidSite)

	// A blocked site without a message gets one
	_, err = env.store.Update(ctx, func(state *core.State) error {
		return state.AddSite(core.BlockedSite{URL: "casino.com"})
	})
	require.NoError(t, err)
	env.flow.generate = sequence("fresh")

	prompt, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)
	assert.Equal(t, "fresh", prompt.Message)
	assert.Equal(t, "fresh", env.state(t).Challenges["casino.com"])
	assert.Empty(t, prompt.GuardianAddress)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), prompt.ExpiresAt, time.Minute)
}

func TestRotateChallenges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "a")
	env.block(t, "poker.com", "b")
	_, err := env.store.Update(ctx, func(state *core.State) error {
		state.Challenges["gone.com"] = "c"
		return nil
	})
	require.NoError(t, err)

	// The generator repeats old messages before producing new ones
	env.flow.generate = sequence("a", "n1", "b", "n2")
	require.NoError(t, env.flow.RotateChallenges(ctx))

	state := env.state(t)
	assert.Len(t, state.Sites, 2)
	assert.Equal(t, map[string]string{"casino.com": "n1", "poker.com": "n2"}, state.Challenges)
	assert.Equal(t, [][]string{{"casino.com", "poker.com"}}, env.publisher.rotations)
}

func TestRotateChallengesEmptyList(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.flow.RotateChallenges(context.Background()))
	assert.Empty(t, env.publisher.rotations)
}

func TestStartRotatesPeriodically(t *testing.T) {
	env := newTestEnv(t)
	env.block(t, "casino.com", "a")
	env.flow.cfg.RotationInterval = 5 * time.Millisecond

	require.NoError(t, env.flow.Start(context.Background()))
	require.Eventually(t, func() bool { return env.publisher.rotationCount() >= 2 }, time.Second, time.Millisecond)
	env.flow.StopAndWait()

	count := env.publisher.rotationCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, env.publisher.rotationCount())
	assert.Len(t, env.state(t).Sites, 1)
}

func TestRotateTwiceChangesEveryMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "a")
	env.block(t, "poker.com", "b")

	first := env.state(t).Challenges
	require.NoError(t, env.flow.RotateChallenges(ctx))
	second := env.state(t).Challenges
	require.NoError(t, env.flow.RotateChallenges(ctx))
	third := env.state(t)

	for _, site := range []string{"casino.com", "poker.com"} {
		assert.NotEqual(t, first[site], second[site])
		assert.NotEqual(t, second[site], third.Challenges[site])
	}
	assert.Len(t, third.Sites, 2)
}

func TestSecondTicketForSameMessageIsSpent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")

	first, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)
	second, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)
	require.Equal(t, first.Message, second.Message)
	assert.Len(t, env.state(t).Tickets, 2)

	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         first.Ticket,
	})
	require.NoError(t, err)
	require.Equal(t, core.OutcomeVerified, res.Outcome)
	assert.Empty(t, env.state(t).Tickets)

	env.block(t, "casino.com", "msg3")
	res, err = env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         second.Ticket,
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeTicketRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrTicketConsumed)
	assert.Len(t, env.state(t).Sites, 1)
	assert.Equal(t, []string{"casino.com"}, env.publisher.unblocked)
}

func TestLiveChallengeRemovalSpendsOutstandingTickets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")

	prompt, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)

	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
	})
	require.NoError(t, err)
	require.Equal(t, core.OutcomeVerified, res.Outcome)

	env.block(t, "casino.com", "msg2")
	res, err = env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         prompt.Ticket,
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeTicketRejected, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrTicketConsumed)
	assert.Len(t, env.state(t).Sites, 1)
}

func TestFailedRemovalKeepsTicket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	env.fetcher.txs["0x1"] = approvalTx(t, env.guardian, "0x1", "msg1")

	prompt, err := env.flow.RequestRemoval(ctx, "casino.com")
	require.NoError(t, err)

	flaky := &flakyStore{Store: env.store, failures: 1}
	env.flow.store = flaky
	confirmation := RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0x1",
		ClaimedAddress: env.guardianAddress(),
		Ticket:         prompt.Ticket,
	}

	_, err = env.flow.ConfirmRemoval(ctx, confirmation)
	require.ErrorIs(t, err, core.ErrStoreConflict)
	state := env.state(t)
	assert.Len(t, state.Sites, 1)
	assert.Contains(t, state.Tickets, ticketID(t, env, prompt.Ticket))
	assert.Empty(t, env.publisher.unblocked)

	res, err := env.flow.ConfirmRemoval(ctx, confirmation)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeVerified, res.Outcome)
	assert.Empty(t, env.state(t).Sites)
}

func TestConfirmRemovalEnforcesStoredGuardian(t *testing.T) {
	impostor, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostorAddress := crypto.PubkeyToAddress(impostor.PublicKey).Hex()

	env := newTestEnv(t)
	ctx := context.Background()
	env.block(t, "casino.com", "msg1")
	_, err = env.sites.SetGuardian(ctx, env.guardianAddress())
	require.NoError(t, err)
	env.fetcher.txs["0xbad"] = approvalTx(t, impostor, "0xbad", "msg1")
	env.fetcher.txs["0xok"] = approvalTx(t, env.guardian, "0xok", "msg1")

	// A self-signed approval naming its own signer is not the guardian's
	res, err := env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0xbad",
		ClaimedAddress: impostorAddress,
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSignerMismatch, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrNotGuardian)
	assert.Len(t, env.state(t).Sites, 1)

	res, err = env.flow.ConfirmRemoval(ctx, RemovalConfirmation{
		Site:           "casino.com",
		TxHash:         "0xbad",
		ClaimedAddress: "not-an-address",
	})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSignerMismatch, res.Outcome)

	// Without a claim the stored guardian is expected
	res, err = env.flow.ConfirmRemoval(ctx, RemovalConfirmation{Site: "casino.com", TxHash: "0xbad"})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSignerMismatch, res.Outcome)
	assert.Len(t, env.state(t).Sites, 1)

	res, err = env.flow.ConfirmRemoval(ctx, RemovalConfirmation{Site: "casino.com", TxHash: "0xok"})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeVerified, res.Outcome)
	assert.Empty(t, env.state(t).Sites)
}

func ticketID(t *testing.T, env *testEnv, token string) string {
	t.Helper()
	ticket, err := env.flow.tokenizer.TokenToTicket(token)
	require.NoError(t, err)
	return ticket.ID
}
