package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CanonicalTime is the form a timestamp takes inside the hash: UTC,
// truncated to microseconds so it survives a Postgres round trip.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ValueDigest is the hex SHA-256 of a stored value, or "" for an empty one.
func ValueDigest(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// ComputeHash returns the chain hash of e under the org secret. It covers
// the timestamp, actor, action, resource, both value digests and the
// previous hash.
func ComputeHash(secret []byte, e Entry) string {
	msg := strings.Join([]string{
		CanonicalTime(e.CreatedAt).Format(time.RFC3339Nano),
		e.ActorID,
		e.Action,
		e.ResourceID,
		ValueDigest(e.OldValue),
		ValueDigest(e.NewValue),
		e.PreviousHash,
	}, "|")
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func hashMatches(secret []byte, e Entry) bool {
	want := ComputeHash(secret, e)
	return hmac.Equal([]byte(want), []byte(e.CurrentHash))
}

// Verify walks entries in chain order. anchor is the entry immediately
// before entries[0], or nil when entries starts the chain.
//
// A link is broken when the predecessor's stored hash does not match its
// recomputed hash, or when the successor does not point at it. The break is
// reported at the successor, so tampering with an entry or deleting it
// surfaces at the entry that follows. Only the final entry is reported as
// itself.
func Verify(secret []byte, anchor *Entry, entries []Entry) VerifyResult {
	res := VerifyResult{Valid: true}
	prev := anchor
	for i := range entries {
		cur := entries[i]
		res.Checked++
		switch {
		case prev == nil && !cur.IsGenesis():
			return broken(res, cur, "first entry references a predecessor that does not exist")
		case prev != nil && !hashMatches(secret, *prev):
			return broken(res, cur, "predecessor content does not match its hash")
		case prev != nil && cur.PreviousHash != prev.CurrentHash:
			return broken(res, cur, "previous hash does not match predecessor")
		}
		prev = &entries[i]
	}
	if n := len(entries); n > 0 && !hashMatches(secret, entries[n-1]) {
		return broken(res, entries[n-1], "entry content does not match its hash")
	}
	return res
}

func broken(res VerifyResult, at Entry, reason string) VerifyResult {
	id := at.ID
	res.Valid = false
	res.BrokenAtID = &id
	res.Reason = reason
	return res
}
