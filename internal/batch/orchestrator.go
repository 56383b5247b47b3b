package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
)

const (
	KindEntity    = "entity"
	KindVariation = "variation"
)

type Options struct {
	// ChunkSize is capped at MaxBatchSize; zero means MaxBatchSize.
	ChunkSize  int
	RetryDelay time.Duration
}

type PushOptions struct {
	// DryRun computes the same statistics and map shape with synthetic ids
	// and never calls the CatalogAPI.
	DryRun bool
}

type Stats struct {
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Skipped           int `json:"skipped"`
	Failed            int `json:"failed"`
	VariationsCreated int `json:"variations_created"`
	VariationsUpdated int `json:"variations_updated"`
	VariationsFailed  int `json:"variations_failed"`
	ParentMissing     int `json:"parent_missing"`
	Requests          int `json:"requests"`
	ChunkFailures     int `json:"chunk_failures"`
}

func (s Stats) Errors() int {
	return s.Failed + s.VariationsFailed + s.ParentMissing
}

func (s *Stats) Add(o Stats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.VariationsCreated += o.VariationsCreated
	s.VariationsUpdated += o.VariationsUpdated
	s.VariationsFailed += o.VariationsFailed
	s.ParentMissing += o.ParentMissing
	s.Requests += o.Requests
	s.ChunkFailures += o.ChunkFailures
}

// Failure is one item that did not make it to the remote catalog.
type Failure struct {
	Kind      string
	Key       string
	ParentKey string
	Err       error
}

type Result struct {
	Map      RemoteMap
	Stats    Stats
	Failures []Failure
}

type Orchestrator struct {
	api        CatalogAPI
	chunkSize  int
	retryDelay time.Duration
	logger     *logger.Logger
	sleep      func(context.Context, time.Duration)
	synthetic  atomic.Int64
}

func New(api CatalogAPI, opts Options, logger *logger.Logger) *Orchestrator {
	size := opts.ChunkSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	return &Orchestrator{
		api:        api,
		chunkSize:  size,
		retryDelay: opts.RetryDelay,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func (o *Orchestrator) ChunkSize() int { return o.chunkSize }

// Push creates entities without a remote mapping and updates those with one,
// then pushes each entity's variations once its parent id is known.
func (o *Orchestrator) Push(ctx context.Context, entities []catalog.Entity, existing RemoteMap, opts PushOptions) (Result, error) {
	res := Result{Map: existing.Clone()}
	if res.Map.Entities == nil || res.Map.Variations == nil {
		res.Map = NewRemoteMap()
	}

	var toCreate, toUpdate []catalog.Entity
	skipped := make(map[string]struct{})
	for _, e := range entities {
		if id, ok := res.Map.Entities[e.SKU]; ok && id != 0 {
			toUpdate = append(toUpdate, e)
			continue
		}
		if e.Action == catalog.ActionRemoved {
			// Never created remotely, so there is nothing to take out of stock.
			res.Stats.Skipped++
			skipped[e.SKU] = struct{}{}
			continue
		}
		toCreate = append(toCreate, e)
	}

	for _, chunk := range chunks(toCreate, o.chunkSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.pushEntities(ctx, chunk, true, opts, &res)
	}
	for _, chunk := range chunks(toUpdate, o.chunkSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.pushEntities(ctx, chunk, false, opts, &res)
	}

	// Variations go second: a variation cannot exist before its parent.
	for _, e := range entities {
		if len(e.Variations) == 0 {
			continue
		}
		if _, ok := skipped[e.SKU]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		parentID := res.Map.Entities[e.SKU]
		if parentID == 0 {
			res.Stats.ParentMissing++
			res.Failures = append(res.Failures, Failure{
				Kind: KindEntity,
				Key:  e.SKU,
				Err:  fmt.Errorf("no remote id for %s after create pass; %d variations skipped", e.SKU, len(e.Variations)),
			})
			continue
		}
		o.pushVariations(ctx, e.SKU, parentID, e.Variations, variationPayload, opts, &res)
	}

	metrics.ObserveBatch(res.Stats.Requests, res.Stats.Errors())
	return res, nil
}

// UpdateVariations pushes price-only updates for variations that already
// exist remotely under parentID. Stock is never sent, so a concurrent stock
// change on the remote side survives. Variations without a remote id are
// failures.
func (o *Orchestrator) UpdateVariations(ctx context.Context, parentKey string, parentID int64, variations []catalog.Variation, opts PushOptions) (Result, error) {
	res := Result{Map: NewRemoteMap()}
	res.Map.Entities[parentKey] = parentID

	var known []catalog.Variation
	for _, v := range variations {
		if v.RemoteID == 0 {
			res.Stats.VariationsFailed++
			res.Failures = append(res.Failures, Failure{
				Kind: KindVariation, Key: v.Key, ParentKey: parentKey,
				Err: fmt.Errorf("variation %s has no remote id", v.Key),
			})
			continue
		}
		res.Map.Variations[v.Key] = v.RemoteID
		known = append(known, v)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	o.pushVariations(ctx, parentKey, parentID, known, pricePayload, opts, &res)
	metrics.ObserveBatch(res.Stats.Requests, res.Stats.Errors())
	return res, nil
}

func (o *Orchestrator) pushEntities(ctx context.Context, chunk []catalog.Entity, create bool, opts PushOptions, res *Result) {
	req := BatchRequest{}
	for _, e := range chunk {
		p := entityPayload(e)
		if create {
			req.Create = append(req.Create, p)
		} else {
			p.RemoteID = res.Map.Entities[e.SKU]
			req.Update = append(req.Update, p)
		}
	}

	resp, err := o.send(ctx, KindEntity, req, opts, res, func(ctx context.Context, r BatchRequest) (BatchResponse, error) {
		return o.api.BatchEntities(ctx, r)
	})
	if err != nil {
		for _, e := range chunk {
			res.Stats.Failed++
			res.Failures = append(res.Failures, Failure{Kind: KindEntity, Key: e.SKU, Err: err})
		}
		return
	}

	if create {
		for _, item := range reconcileItems(req.Create, resp.Create) {
			if item.err != nil {
				res.Stats.Failed++
				res.Failures = append(res.Failures, Failure{Kind: KindEntity, Key: item.key, Err: item.err})
				continue
			}
			res.Map.Entities[item.key] = item.id
			res.Stats.Created++
		}
		return
	}
	for _, item := range reconcileItems(req.Update, resp.Update) {
		if item.err != nil {
			res.Stats.Failed++
			res.Failures = append(res.Failures, Failure{Kind: KindEntity, Key: item.key, Err: item.err})
			continue
		}
		res.Stats.Updated++
	}
}

func (o *Orchestrator) pushVariations(ctx context.Context, parentKey string, parentID int64, variations []catalog.Variation, payload func(catalog.Variation) ItemPayload, opts PushOptions, res *Result) {
	var toCreate, toUpdate []ItemPayload
	for _, v := range variations {
		p := payload(v)
		if id := res.Map.Variations[v.Key]; id != 0 {
			p.RemoteID = id
			toUpdate = append(toUpdate, p)
		} else {
			toCreate = append(toCreate, p)
		}
	}

	sendChunk := func(ctx context.Context, r BatchRequest) (BatchResponse, error) {
		return o.api.BatchVariations(ctx, parentID, r)
	}

	for _, chunk := range chunks(toCreate, o.chunkSize) {
		req := BatchRequest{Create: chunk}
		resp, err := o.send(ctx, KindVariation, req, opts, res, sendChunk)
		for _, item := range o.outcome(req.Create, resp.Create, err) {
			if item.err != nil {
				res.Stats.VariationsFailed++
				res.Failures = append(res.Failures, Failure{Kind: KindVariation, Key: item.key, ParentKey: parentKey, Err: item.err})
				continue
			}
			res.Map.Variations[item.key] = item.id
			res.Stats.VariationsCreated++
		}
	}
	for _, chunk := range chunks(toUpdate, o.chunkSize) {
		req := BatchRequest{Update: chunk}
		resp, err := o.send(ctx, KindVariation, req, opts, res, sendChunk)
		for _, item := range o.outcome(req.Update, resp.Update, err) {
			if item.err != nil {
				res.Stats.VariationsFailed++
				res.Failures = append(res.Failures, Failure{Kind: KindVariation, Key: item.key, ParentKey: parentKey, Err: item.err})
				continue
			}
			res.Stats.VariationsUpdated++
		}
	}
}

// send issues one chunk request, retrying a retryable failure once.
func (o *Orchestrator) send(ctx context.Context, kind string, req BatchRequest, opts PushOptions, res *Result, fn func(context.Context, BatchRequest) (BatchResponse, error)) (BatchResponse, error) {
	res.Stats.Requests++
	if opts.DryRun {
		return o.simulate(req), nil
	}

	resp, err := fn(ctx, req)
	if err == nil {
		o.logger.Debug("%s batch ok: %d create, %d update", kind, len(req.Create), len(req.Update))
		return resp, nil
	}

	tries := 1
	if apperr.IsRetryable(err) && ctx.Err() == nil {
		o.logger.Warn("%s batch of %d failed, retrying once: %v", kind, req.Len(), err)
		o.sleep(ctx, o.retryDelay)
		res.Stats.Requests++
		tries++
		resp, err = fn(ctx, req)
		if err == nil {
			return resp, nil
		}
	}

	res.Stats.ChunkFailures++
	chunkErr := &apperr.RemoteChunkError{Kind: kind, Size: req.Len(), Err: err, Tries: tries}
	o.logger.Error("%v", chunkErr)
	return BatchResponse{}, chunkErr
}

func (o *Orchestrator) simulate(req BatchRequest) BatchResponse {
	var resp BatchResponse
	for _, p := range req.Create {
		resp.Create = append(resp.Create, BatchItemResult{ID: -o.synthetic.Add(1), Key: p.Key})
	}
	for _, p := range req.Update {
		resp.Update = append(resp.Update, BatchItemResult{ID: p.RemoteID, Key: p.Key})
	}
	return resp
}

type itemOutcome struct {
	key string
	id  int64
	err error
}

func (o *Orchestrator) outcome(sent []ItemPayload, got []BatchItemResult, chunkErr error) []itemOutcome {
	if chunkErr == nil {
		return reconcileItems(sent, got)
	}
	out := make([]itemOutcome, len(sent))
	for i, p := range sent {
		out[i] = itemOutcome{key: p.Key, err: chunkErr}
	}
	return out
}

// reconcileItems matches response items to the request by key, falling back
// to position when the remote omits the key. Items with no echo are failures.
func reconcileItems(sent []ItemPayload, got []BatchItemResult) []itemOutcome {
	byKey := make(map[string]BatchItemResult, len(got))
	for _, r := range got {
		if r.Key != "" {
			byKey[r.Key] = r
		}
	}

	out := make([]itemOutcome, len(sent))
	for i, p := range sent {
		r, ok := byKey[p.Key]
		if !ok && i < len(got) && got[i].Key == "" {
			r, ok = got[i], true
		}
		switch {
		case !ok:
			out[i] = itemOutcome{key: p.Key, err: &apperr.RemoteItemError{Key: p.Key, Message: "missing from batch response"}}
		case r.Error != nil:
			out[i] = itemOutcome{key: p.Key, err: &apperr.RemoteItemError{Key: p.Key, Code: r.Error.Code, Message: r.Error.Message}}
		case r.ID == 0:
			out[i] = itemOutcome{key: p.Key, err: &apperr.RemoteItemError{Key: p.Key, Message: "no id returned"}}
		default:
			out[i] = itemOutcome{key: p.Key, id: r.ID}
		}
	}
	return out
}

func entityPayload(e catalog.Entity) ItemPayload {
	sizes := make([]string, 0, len(e.Variations))
	for _, v := range e.Variations {
		sizes = append(sizes, v.Size)
	}
	return ItemPayload{
		Key:           e.SKU,
		Name:          e.Name,
		StockQuantity: e.TotalStock(),
		StockStatus:   e.StockStatus(),
		Options:       sizes,
	}
}

func variationPayload(v catalog.Variation) ItemPayload {
	price := v.Price
	return ItemPayload{
		RemoteID:      v.RemoteID,
		Key:           v.Key,
		Size:          v.Size,
		Price:         &price,
		StockQuantity: v.StockQuantity,
		StockStatus:   v.StockStatus(),
	}
}

func pricePayload(v catalog.Variation) ItemPayload {
	price := v.Price
	return ItemPayload{
		RemoteID:  v.RemoteID,
		Key:       v.Key,
		Size:      v.Size,
		Price:     &price,
		PriceOnly: true,
	}
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsChunkFailure reports whether a Failure came from a whole-chunk error.
func IsChunkFailure(f Failure) bool {
	var ce *apperr.RemoteChunkError
	return errors.As(f.Err, &ce)
}
