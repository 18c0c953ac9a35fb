package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/guardian/adapters/store"
	"github.com/layer-3/guardian/adapters/tokenizer"
	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	blocked   []string
	unblocked []string
	rotations [][]string
}

func (p *recordingPublisher) PublishSiteBlocked(_ context.Context, site string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked = append(p.blocked, site)
	return nil
}

func (p *recordingPublisher) PublishSiteUnblocked(_ context.Context, site string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unblocked = append(p.unblocked, site)
	return nil
}

func (p *recordingPublisher) PublishChallengesRotated(_ context.Context, sites []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotations = append(p.rotations, append([]string(nil), sites...))
	return nil
}

func (p *recordingPublisher) rotationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rotations)
}

// fakeFetcher serves transactions by hash and can run a hook before answering
type fakeFetcher struct {
	txs    map[string]*core.Transaction
	err    error
	before func(ctx context.Context) error
}

func (f *fakeFetcher) TransactionByHash(ctx context.Context, hash string) (*core.Transaction, error) {
	if f.before != nil {
		if err := f.before(ctx); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, core.ErrTransactionNotFound
	}
	return tx, nil
}

func newTicketTokenizer(t *testing.T) ports.Tokenizer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return tokenizer.NewJWTTokenizer(key)
}

func personalSign(t *testing.T, key *ecdsa.PrivateKey, msg string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

// approvalTx builds a transaction whose input carries msg signed by key
func approvalTx(t *testing.T, key *ecdsa.PrivateKey, hash, msg string) *core.Transaction {
	t.Helper()
	payload, err := core.EncodePayload(msg, personalSign(t, key, msg))
	require.NoError(t, err)
	return &core.Transaction{
		Hash:  hash,
		From:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Input: payload,
	}
}

// sequence returns a generator yielding msgs in order, then repeating the last one
func sequence(msgs ...string) core.MessageGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		msg := msgs[i]
		if i < len(msgs)-1 {
			i++
		}
		return msg, nil
	}
}

type testEnv struct {
	store     ports.Store
	fetcher   *fakeFetcher
	publisher *recordingPublisher
	sites     *SiteService
	recovery  *RecoveryTracker
	flow      *UnblockFlow
	guardian  *ecdsa.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	guardian, err := crypto.GenerateKey()
	require.NoError(t, err)

	env := &testEnv{
		store:     store.NewMemoryStore(),
		fetcher:   &fakeFetcher{txs: map[string]*core.Transaction{}},
		publisher: &recordingPublisher{},
		guardian:  guardian,
	}
	env.sites = NewSiteService(env.store, env.publisher)
	env.recovery = NewRecoveryTracker(env.store)
	env.flow = NewUnblockFlow(DefaultUnblockConfig(), env.store, env.fetcher, newTicketTokenizer(t), env.publisher, env.recovery)
	return env
}

func (e *testEnv) guardianAddress() string {
	return crypto.PubkeyToAddress(e.guardian.PublicKey).Hex()
}

// block adds site with challenge msg
func (e *testEnv) block(t *testing.T, site, msg string) {
	t.Helper()
	e.sites.generate = sequence(msg)
	_, err := e.sites.AddSite(context.Background(), site)
	require.NoError(t, err)
}

func (e *testEnv) state(t *testing.T) *core.State {
	t.Helper()
	state, err := e.store.Load(context.Background())
	require.NoError(t, err)
	return state
}

// flakyStore fails the next failures calls to Update without applying them
type flakyStore struct {
	ports.Store
	failures int
}

func (s *flakyStore) Update(ctx context.Context, fn func(*core.State) error) (*core.State, error) {
	if s.failures > 0 {
		s.failures--
		return nil, core.ErrStoreConflict
	}
	return s.Store.Update(ctx, fn)
}
