package audit

import (
	"context"
	"hash/fnv"
)

type job struct {
	entry Entry
	// done is nil for fire-and-forget entries.
	done chan<- result
}

type result struct {
	hash string
	err  error
}

// shard serializes every entry routed to it. An org always maps to the same
// shard, so one process never races itself on an org's tip.
type shard struct {
	queue chan job
}

func shardFor(orgKey string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orgKey))
	return int(h.Sum32() % uint32(n))
}

func (w *Writer) runShard(ctx context.Context, index int, s *shard) {
	defer w.wg.Done()
	for j := range s.queue {
		w.metrics.SetQueueDepth(index, len(s.queue))
		hash, err := w.commit(ctx, j.entry)
		if j.done != nil {
			j.done <- result{hash: hash, err: err}
			continue
		}
		if err != nil {
			w.metrics.IncFailure("append")
			w.logger.ErrorContext(ctx, "CRITICAL: audit append failed, compliance record has a gap",
				"org_id", j.entry.OrgID.String(),
				"action", j.entry.Action,
				"resource_id", j.entry.ResourceID,
				"error", err,
			)
		}
	}
}
