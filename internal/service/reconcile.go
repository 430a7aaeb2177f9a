package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

const pruneConcurrency = 4

type MissingObject struct {
	VideoID string
	Key     string
}

type ReconcileReport struct {
	StorageKeys    int
	Videos         int
	OrphanObjects  []string
	MissingObjects []MissingObject
	Pruned         []string
	// Retained lists orphans that gained a metadata row before deletion.
	Retained []string
}

// Reconcile compares the keys present in object storage with the keys that
// metadata references. With prune, unreferenced objects are deleted.
func (s *VideoService) Reconcile(ctx context.Context, prune bool) (ReconcileReport, error) {
	var storedKeys []string
	var referenced map[string][]string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keys, err := s.storage.List(gctx, "")
		if err != nil {
			return fmt.Errorf("list storage: %w", err)
		}
		storedKeys = keys
		return nil
	})
	g.Go(func() error {
		keys, err := s.meta.ListVideoStorageKeys(gctx)
		if err != nil {
			return fmt.Errorf("list metadata: %w", err)
		}
		referenced = keys
		return nil
	})
	if err := g.Wait(); err != nil {
		return ReconcileReport{}, err
	}

	stored := make(map[string]struct{}, len(storedKeys))
	for _, key := range storedKeys {
		stored[key] = struct{}{}
	}
	inUse := make(map[string]struct{}, len(referenced)*2)

	report := ReconcileReport{
		StorageKeys:    len(storedKeys),
		Videos:         len(referenced),
		OrphanObjects:  make([]string, 0),
		MissingObjects: make([]MissingObject, 0),
		Pruned:         make([]string, 0),
		Retained:       make([]string, 0),
	}
	for videoID, keys := range referenced {
		for i, key := range keys {
			inUse[key] = struct{}{}
			// Only the video itself is required; a lost thumbnail is tolerated.
			if _, ok := stored[key]; !ok && i == 0 {
				report.MissingObjects = append(report.MissingObjects, MissingObject{VideoID: videoID, Key: key})
			}
		}
	}
	slices.SortFunc(report.MissingObjects, func(a, b MissingObject) int {
		switch {
		case a.VideoID < b.VideoID:
			return -1
		case a.VideoID > b.VideoID:
			return 1
		default:
			return 0
		}
	})
	for _, key := range storedKeys {
		if _, ok := inUse[key]; !ok {
			report.OrphanObjects = append(report.OrphanObjects, key)
		}
	}

	if !prune || len(report.OrphanObjects) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	pg, pctx := errgroup.WithContext(ctx)
	pg.SetLimit(pruneConcurrency)
	for _, key := range report.OrphanObjects {
		pg.Go(func() error {
			// An upload writes its object before its row; look again.
			claimed, err := s.keyClaimed(pctx, key)
			if err != nil {
				return fmt.Errorf("recheck %s: %w", key, err)
			}
			if claimed {
				mu.Lock()
				report.Retained = append(report.Retained, key)
				mu.Unlock()
				return nil
			}
			if err := s.storage.Delete(pctx, key); err != nil {
				return fmt.Errorf("prune %s: %w", key, err)
			}
			mu.Lock()
			report.Pruned = append(report.Pruned, key)
			mu.Unlock()
			log.Infof("pruned orphan object %s", key)
			return nil
		})
	}
	err := pg.Wait()
	slices.Sort(report.Pruned)
	slices.Sort(report.Retained)
	return report, err
}

// keyClaimed reports whether a video row now owns key, either as its
// object or as the poster of that object.
func (s *VideoService) keyClaimed(ctx context.Context, key string) (bool, error) {
	_, err := s.meta.GetVideoByStorageKey(ctx, strings.TrimSuffix(key, thumbnailKeySuffix))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}
