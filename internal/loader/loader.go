// Package loader implements WAL recovery (§4.9): scanning every shard,
// dropping corrupt frames, and replaying only the DATA records whose
// owning transaction committed (or that carry no transaction at all) and
// that postdate the last checkpoint.
//
// Grounded on spec.md §4.9's recovery algorithm directly, and on
// other_examples' LeeNgari-RDBMS WAL types for the active/committed
// transaction bookkeeping idiom in Go.
package loader

import (
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/otbx/otbx/internal/otlog"
	"github.com/otbx/otbx/internal/wal"
)

var log = otlog.New("loader")

// Recover scans every .wal_0 .. .wal_{shardCount-1} file under dir,
// collects committed transaction ids from COMMIT markers, then returns
// the DATA records to replay: those with id > lastCheckpointedWALID whose
// txn_id is either 0 (no transaction) or in the committed set, sorted by
// id ascending. Shards are independent files, so reading them is fanned
// out across an errgroup; each goroutine writes only to its own slot of
// perShard, and the merge back into one committed set / data slice runs
// sequentially once every shard read has returned.
func Recover(dir string, shardCount int, lastCheckpointedWALID uint64) ([]wal.Record, error) {
	perShard := make([][]wal.Record, shardCount)

	var g errgroup.Group
	for i := 0; i < shardCount; i++ {
		i := i
		g.Go(func() error {
			path := filepath.Join(dir, wal.ShardFileName(i))
			records, err := wal.ReadShard(path)
			if err != nil {
				return err
			}
			perShard[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	committed := make(map[uint64]bool)
	var data []wal.Record
	for _, records := range perShard {
		for _, r := range records {
			switch r.Kind {
			case wal.KindCommit:
				committed[r.TxnID] = true
			case wal.KindData:
				data = append(data, r)
			}
		}
	}

	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	var replay []wal.Record
	for _, r := range data {
		if r.ID <= lastCheckpointedWALID {
			continue
		}
		if r.TxnID != 0 && !committed[r.TxnID] {
			continue
		}
		replay = append(replay, r)
	}
	log.Infow("WAL recovery scan complete",
		"shards", shardCount, "data_records", len(data), "replaying", len(replay))
	return replay, nil
}
