package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/pkg/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func link(entries ...Entry) []Entry {
	prev := ""
	for i := range entries {
		entries[i].ID = domain.NewAuditEntryID()
		entries[i].PreviousHash = prev
		entries[i].CurrentHash = ComputeHash(testSecret, entries[i])
		prev = entries[i].CurrentHash
	}
	return entries
}

func sample(action string, at time.Time) Entry {
	return Entry{ActorID: "a-1", Action: action, ResourceID: "r-1", NewValue: "cipher", CreatedAt: at}
}

func TestComputeHash(t *testing.T) {
	at := time.Date(2025, 2, 3, 4, 5, 6, 789123456, time.UTC)
	base := sample("read", at)
	h := ComputeHash(testSecret, base)

	assert.Len(t, h, 64)
	assert.Equal(t, h, ComputeHash(testSecret, base), "deterministic")

	t.Run("sub-microsecond precision and zone do not matter", func(t *testing.T) {
		e := base
		e.CreatedAt = at.Truncate(time.Microsecond).In(time.FixedZone("X", 3600))
		assert.Equal(t, h, ComputeHash(testSecret, e))
	})

	t.Run("every covered field changes the hash", func(t *testing.T) {
		mutations := map[string]func(*Entry){
			"time":     func(e *Entry) { e.CreatedAt = e.CreatedAt.Add(time.Microsecond) },
			"actor":    func(e *Entry) { e.ActorID = "a-2" },
			"action":   func(e *Entry) { e.Action = "update" },
			"resource": func(e *Entry) { e.ResourceID = "r-2" },
			"old":      func(e *Entry) { e.OldValue = "x" },
			"new":      func(e *Entry) { e.NewValue = "y" },
			"previous": func(e *Entry) { e.PreviousHash = "ff" },
		}
		for name, mutate := range mutations {
			e := base
			mutate(&e)
			assert.NotEqual(t, h, ComputeHash(testSecret, e), name)
		}
	})

	t.Run("secret is part of the hash", func(t *testing.T) {
		assert.NotEqual(t, h, ComputeHash([]byte("another-secret-another-secret-!!"), base))
	})
}

func TestValueDigest(t *testing.T) {
	assert.Equal(t, "", ValueDigest(""))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", ValueDigest("hello"))
}

func TestVerify(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	chain := func() []Entry {
		return link(
			sample("a", at),
			sample("b", at.Add(time.Second)),
			sample("c", at.Add(2*time.Second)),
			sample("d", at.Add(3*time.Second)),
		)
	}

	t.Run("intact chain", func(t *testing.T) {
		res := Verify(testSecret, nil, chain())
		assert.True(t, res.Valid)
		assert.Equal(t, 4, res.Checked)
		assert.Nil(t, res.BrokenAtID)
	})

	t.Run("empty range is valid", func(t *testing.T) {
		assert.True(t, Verify(testSecret, nil, nil).Valid)
	})

	t.Run("tampered value breaks at the next entry", func(t *testing.T) {
		entries := chain()
		entries[1].NewValue = "forged"
		res := Verify(testSecret, nil, entries)
		require.False(t, res.Valid)
		assert.Equal(t, entries[2].ID, *res.BrokenAtID)
	})

	t.Run("tampered final entry breaks at itself", func(t *testing.T) {
		entries := chain()
		entries[3].ActorID = "someone-else"
		res := Verify(testSecret, nil, entries)
		require.False(t, res.Valid)
		assert.Equal(t, entries[3].ID, *res.BrokenAtID)
	})

	t.Run("deleted entry breaks at the next entry", func(t *testing.T) {
		entries := chain()
		next := entries[2].ID
		entries = append(entries[:1], entries[2:]...)
		res := Verify(testSecret, nil, entries)
		require.False(t, res.Valid)
		assert.Equal(t, next, *res.BrokenAtID)
	})

	t.Run("range anchored mid-chain", func(t *testing.T) {
		entries := chain()
		res := Verify(testSecret, &entries[1], entries[2:])
		assert.True(t, res.Valid)
		assert.Equal(t, 2, res.Checked)
	})

	t.Run("tampered anchor breaks at the first entry of the range", func(t *testing.T) {
		entries := chain()
		anchor := entries[1]
		anchor.Description = "ignored by the hash"
		anchor.Action = "forged"
		res := Verify(testSecret, &anchor, entries[2:])
		require.False(t, res.Valid)
		assert.Equal(t, entries[2].ID, *res.BrokenAtID)
	})

	t.Run("mid-chain range without its anchor", func(t *testing.T) {
		entries := chain()
		res := Verify(testSecret, nil, entries[2:])
		require.False(t, res.Valid)
		assert.Equal(t, entries[2].ID, *res.BrokenAtID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		res := Verify([]byte("wrong-secret-wrong-secret-wrong!!"), nil, chain())
		assert.False(t, res.Valid)
	})
}
