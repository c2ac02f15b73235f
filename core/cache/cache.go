// Package cache implements the content-addressed store of prior Provider Adapter responses,
// keyed by request fingerprint.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
	"github.com/loomforge/loomforge/core/models"
)

// EventEmitter is the subset of the Event Log's interface the Cache needs, so tests can swap in
// a fake without standing up a real events.jsonl file.
type EventEmitter interface {
	Emit(e models.Event) error
}

// Cache stores provider responses under a fingerprint key. Disabling it must never change
// observable job output, only latency and cost: callers always fall through to calling the
// provider directly on a miss.
type Cache struct {
	backend backend
	events  EventEmitter
	jobID   string
	log     logger.Log
}

type backend = blobBackend

// New constructs a Cache. dir may be a local filesystem path (the default, scoped to the run's
// .cache/ folder) or a "s3://bucket/prefix" URL for a shared cache location; both satisfy the
// same fingerprint/get/put contract so scope changes never affect determinism.
func New(dir string, events EventEmitter, jobID string, log logger.Log) (*Cache, error) {
	var b backend
	var err error
	if strings.HasPrefix(dir, "s3://") {
		b, err = newS3BlobBackend(dir, log)
	} else {
		b, err = newLocalBlobBackend(dir)
	}
	if err != nil {
		return nil, err
	}
	return &Cache{backend: b, events: events, jobID: jobID, log: log}, nil
}

// Get looks up a previously cached response for fingerprint, unmarshalling it into out (a
// pointer to models.GenerateResponse or models.ToolCallResponse). It reports a cache miss by
// emitting cache.miss and returning found=false, and a hit by emitting cache.hit and returning
// found=true once the stored entry has been unmarshalled into out.
func (c *Cache) Get(fp Fingerprint, step string, out interface{}) (found bool, err error) {
	data, ok, err := c.backend.get(string(fp))
	if err != nil {
		return false, err
	}
	if !ok {
		if emitErr := c.events.Emit(models.Event{Type: models.EventCacheMiss, Level: models.SeverityInfo, Step: step, JobID: c.jobID}); emitErr != nil {
			return false, emitErr
		}
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, gerror.NewErrIO(fmt.Sprintf("error unmarshalling cache entry %q", fp), err)
	}
	if emitErr := c.events.Emit(models.Event{Type: models.EventCacheHit, Level: models.SeverityInfo, Step: step, JobID: c.jobID}); emitErr != nil {
		return false, emitErr
	}
	return true, nil
}

// Put stores response under fingerprint. The write is idempotent: storing identical bytes a
// second time is a no-op, matching the Artifact Store's safe_write semantics.
func (c *Cache) Put(fp Fingerprint, response interface{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return gerror.NewErrIO("error marshalling cache entry", err)
	}
	return c.backend.put(string(fp), data)
}
