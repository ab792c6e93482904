package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/identityflow"
	"github.com/MrEthical07/identityflow/internal"
)

type tokenRow struct {
	token       identityflow.Token
	fingerprint string
}

// Tokens is an in-memory identityflow.TokenStore. One mutex guards every
// map, which makes CompareAndMarkUsed and RevokeActiveAndInsert atomic.
type Tokens struct {
	mu            sync.Mutex
	byID          map[string]*tokenRow
	byFingerprint map[string]string // purpose:fingerprint -> id
}

func NewTokens() *Tokens {
	return &Tokens{
		byID:          make(map[string]*tokenRow),
		byFingerprint: make(map[string]string),
	}
}

func fingerprintKey(purpose identityflow.Purpose, fingerprint string) string {
	return string(purpose) + ":" + fingerprint
}

func (s *Tokens) Insert(ctx context.Context, token identityflow.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(token)
}

func (s *Tokens) insertLocked(token identityflow.Token) error {
	fp := internal.FingerprintToken(token.Value)
	key := fingerprintKey(token.Purpose, fp)
	if _, ok := s.byFingerprint[key]; ok {
		return identityflow.ErrTokenExists
	}
	if _, ok := s.byID[token.ID]; ok {
		return identityflow.ErrTokenExists
	}

	stored := token
	stored.Value = ""
	s.byID[token.ID] = &tokenRow{token: stored, fingerprint: fp}
	s.byFingerprint[key] = token.ID
	return nil
}

// RevokeActiveAndInsert revokes every active token of (token.OwnerID,
// token.Purpose) and inserts token under one lock.
func (s *Tokens) RevokeActiveAndInsert(ctx context.Context, token identityflow.Token, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, row := range s.byID {
		t := &row.token
		if t.OwnerID == token.OwnerID && t.Purpose == token.Purpose && t.Active(now) {
			t.Revoked = true
			revoked++
		}
	}
	if err := s.insertLocked(token); err != nil {
		return 0, err
	}
	return revoked, nil
}

func (s *Tokens) FindActive(ctx context.Context, ownerID string, purpose identityflow.Purpose, now time.Time) ([]identityflow.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []identityflow.Token
	for _, row := range s.byID {
		if row.token.OwnerID == ownerID && row.token.Purpose == purpose && row.token.Active(now) {
			out = append(out, row.token)
		}
	}
	return out, nil
}

func (s *Tokens) FindByValueAndPurpose(ctx context.Context, value string, purpose identityflow.Purpose) (identityflow.Token, error) {
	if err := ctx.Err(); err != nil {
		return identityflow.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byFingerprint[fingerprintKey(purpose, internal.FingerprintToken(value))]
	if !ok {
		return identityflow.Token{}, identityflow.ErrTokenNotFound
	}
	t := s.byID[id].token
	t.Value = value
	return t, nil
}

func (s *Tokens) CompareAndMarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[tokenID]
	if !ok || !row.token.Active(now) {
		return false, nil
	}
	row.token.Used = true
	return true, nil
}

func (s *Tokens) MarkRevoked(ctx context.Context, tokenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[tokenID]
	if !ok {
		return identityflow.ErrTokenNotFound
	}
	row.token.Revoked = true
	return nil
}

// Purge drops tokens that expired before cutoff and returns how many.
func (s *Tokens) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, row := range s.byID {
		if row.token.ExpiresAt.Before(cutoff) {
			delete(s.byFingerprint, fingerprintKey(row.token.Purpose, row.fingerprint))
			delete(s.byID, id)
			n++
		}
	}
	return n
}

var (
	_ identityflow.TokenStore   = (*Tokens)(nil)
	_ identityflow.TokenRotator = (*Tokens)(nil)
)
