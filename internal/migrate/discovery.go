package migrate

import (
	"context"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/willibrandon/tenantmove/internal/archive"
	"github.com/willibrandon/tenantmove/internal/catalog"
	"github.com/willibrandon/tenantmove/internal/store"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

// thumbPrefix marks generated thumbnails, which the destination rebuilds.
const thumbPrefix = "thumb"

// discoverFiles lists the blobs of every distinct file id under its
// bucketed directory. At most limit listings run at once; results flow
// through one channel into a single collector.
func discoverFiles(ctx context.Context, blobs store.BlobStore, tenantID int64, files []tenancy.FileRef, limit int) ([]archive.BackupFileInfo, error) {
	ids := distinctIDs(files)
	loc := store.Location{Tenant: tenantID, Module: catalog.ModuleFiles}

	found := make(chan archive.BackupFileInfo)
	var collected []archive.BackupFileInfo
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range found {
			collected = append(collected, f)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			paths, err := blobs.List(gctx, loc, catalog.BucketedDir(id)+"/", true)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if strings.HasPrefix(path.Base(p), thumbPrefix) {
					continue
				}
				select {
				case found <- archive.BackupFileInfo{Module: loc.Module, Domain: loc.Domain, Path: p, Tenant: tenantID}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	err := g.Wait()
	close(found)
	<-done
	if err != nil {
		return nil, err
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Path < collected[j].Path })
	return archive.Dedupe(collected), nil
}

func distinctIDs(files []tenancy.FileRef) []int64 {
	seen := make(map[int64]bool, len(files))
	ids := make([]int64, 0, len(files))
	for _, f := range files {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		ids = append(ids, f.ID)
	}
	return ids
}
