package vectorindex

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// IVFConfig tunes the inverted-file index.
type IVFConfig struct {
	// NList is the number of clusters. Zero means sqrt(n) at training time.
	NList int `json:"nlist"`

	// NProbe is the number of clusters scanned per query. Zero means
	// max(2, NList/8).
	NProbe int `json:"nprobe"`

	// TrainThreshold is the space size below which queries stay exact and
	// no clustering is trained.
	TrainThreshold int `json:"trainThreshold"`

	// Iterations of k-means per training run.
	Iterations int `json:"iterations"`

	// SampleSize caps the vectors used to fit centroids. Zero means 32 per cluster.
	SampleSize int `json:"sampleSize"`
}

// DefaultIVFConfig returns the defaults used when a field is zero.
func DefaultIVFConfig() IVFConfig {
	return IVFConfig{TrainThreshold: 1024, Iterations: 8}
}

func (c IVFConfig) withDefaults() IVFConfig {
	d := DefaultIVFConfig()
	if c.TrainThreshold <= 0 {
		c.TrainThreshold = d.TrainThreshold
	}
	if c.Iterations <= 0 {
		c.Iterations = d.Iterations
	}
	return c
}

func (c IVFConfig) nlist(n int) int {
	k := c.NList
	if k <= 0 {
		k = int(math.Sqrt(float64(n)))
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

func (c IVFConfig) nprobe(nlist int) int {
	p := c.NProbe
	if p <= 0 {
		p = nlist / 8
		if p < 2 {
			p = 2
		}
	}
	if p > nlist {
		p = nlist
	}
	return p
}

type ivfSpace struct {
	set *vectorSet

	centroids [][]float32
	lists     []map[string]struct{}
	assign    map[string]int

	// trainedAt is the space size at the last training run. The space is
	// retrained once it doubles.
	trainedAt int
	training  bool
}

func (sp *ivfSpace) trained() bool {
	return sp.centroids != nil
}

func (sp *ivfSpace) place(id string, vec []float32) {
	if old, ok := sp.assign[id]; ok {
		delete(sp.lists[old], id)
	}
	c := nearest(sp.centroids, vec)
	sp.lists[c][id] = struct{}{}
	sp.assign[id] = c
}

func (sp *ivfSpace) unplace(id string) {
	if old, ok := sp.assign[id]; ok {
		delete(sp.lists[old], id)
		delete(sp.assign, id)
	}
}

// IVF is an approximate index. Vectors are grouped around k-means centroids
// and a query scans only the NProbe clusters nearest to it. Small spaces and
// queries with Exact set fall back to a full scan.
type IVF struct {
	cfg    IVFConfig
	mu     sync.RWMutex
	spaces map[memory.Space]*ivfSpace
	guard  modelGuard
}

var _ Index = (*IVF)(nil)

// NewIVF creates an empty IVF index.
func NewIVF(cfg IVFConfig) *IVF {
	return &IVF{cfg: cfg.withDefaults(), spaces: make(map[memory.Space]*ivfSpace)}
}

func (x *IVF) Upsert(ctx context.Context, space memory.Space, id string, vec []float32, model string) error {
	if !space.Valid() {
		return memory.Validation("space", "unknown vector space %q", space)
	}

	x.mu.Lock()
	sp := x.spaces[space]
	if sp == nil {
		sp = &ivfSpace{set: newVectorSet()}
		x.spaces[space] = sp
	}
	if err := x.guard.check(space, model, sp.set.len() == 0); err != nil {
		x.mu.Unlock()
		return err
	}
	norm, err := validateVector(vec, sp.set.dims)
	if err != nil {
		x.mu.Unlock()
		return err
	}
	sp.set.put(id, norm)
	if sp.trained() {
		sp.place(id, norm)
	}

	n := sp.set.len()
	retrain := !sp.training && n >= x.cfg.TrainThreshold && (!sp.trained() || n >= 2*sp.trainedAt)
	var ids []string
	var vecs [][]float32
	if retrain {
		sp.training = true
		ids = append([]string(nil), sp.set.ids...)
		vecs = append([][]float32(nil), sp.set.vecs...)
	}
	x.mu.Unlock()

	if retrain {
		// The vector is stored either way; a failed run is retried on the
		// next upsert because the space is still untrained or oversized.
		_ = x.train(ctx, space, ids, vecs)
	}
	return nil
}

// Train fits clusters for space now, regardless of its size.
func (x *IVF) Train(ctx context.Context, space memory.Space) error {
	x.mu.Lock()
	sp := x.spaces[space]
	if sp == nil || sp.set.len() == 0 || sp.training {
		x.mu.Unlock()
		return nil
	}
	sp.training = true
	ids := append([]string(nil), sp.set.ids...)
	vecs := append([][]float32(nil), sp.set.vecs...)
	x.mu.Unlock()

	return x.train(ctx, space, ids, vecs)
}

// train fits centroids on a snapshot outside the lock, then installs them.
// Vectors written since the snapshot are assigned while installing.
func (x *IVF) train(ctx context.Context, space memory.Space, ids []string, vecs [][]float32) error {
	k := x.cfg.nlist(len(vecs))
	sample := x.cfg.SampleSize
	if sample <= 0 {
		sample = 32 * k
	}
	centroids, err := kmeans(ctx, vecs, k, x.cfg.Iterations, sample)

	var snapshot map[string]int
	if err == nil {
		snapshot = make(map[string]int, len(ids))
		for i, id := range ids {
			snapshot[id] = nearest(centroids, vecs[i])
			if i%ctxCheckEvery == 0 && ctx.Err() != nil {
				err = ctx.Err()
				break
			}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	sp := x.spaces[space]
	sp.training = false
	if err != nil {
		return err
	}
	if sp.set.len() == 0 || sp.set.dims != len(centroids[0]) {
		return nil
	}

	snapVec := make(map[string][]float32, len(ids))
	for i, id := range ids {
		snapVec[id] = vecs[i]
	}

	sp.centroids = centroids
	sp.lists = make([]map[string]struct{}, len(centroids))
	for i := range sp.lists {
		sp.lists[i] = make(map[string]struct{})
	}
	sp.assign = make(map[string]int, sp.set.len())
	for i, id := range sp.set.ids {
		vec := sp.set.vecs[i]
		c, ok := snapshot[id]
		if !ok || &snapVec[id][0] != &vec[0] {
			c = nearest(centroids, vec)
		}
		sp.lists[c][id] = struct{}{}
		sp.assign[id] = c
	}
	sp.trainedAt = len(ids)
	return nil
}

func (x *IVF) Query(ctx context.Context, space memory.Space, vec []float32, opts QueryOptions) ([]Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	sp := x.spaces[space]
	if sp == nil || sp.set.len() == 0 {
		return []Match{}, nil
	}
	query, err := validateVector(vec, sp.set.dims)
	if err != nil {
		return nil, err
	}

	c := newCollector(opts)
	if opts.Exact || !sp.trained() || sp.set.len() < x.cfg.TrainThreshold {
		err = sp.set.scan(ctx, query, c)
		return c.results(), err
	}

	scanned := 0
	for _, list := range nearestClusters(sp.centroids, query, x.cfg.nprobe(len(sp.centroids))) {
		for id := range sp.lists[list] {
			if scanned%ctxCheckEvery == 0 && ctx.Err() != nil {
				return c.results(), ErrPartial
			}
			scanned++
			c.offer(id, dot(query, sp.set.get(id)))
		}
	}
	return c.results(), nil
}

func (x *IVF) Delete(ctx context.Context, space memory.Space, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if sp := x.spaces[space]; sp != nil {
		if sp.set.remove(id) && sp.trained() {
			sp.unplace(id)
		}
	}
	return nil
}

func (x *IVF) Len(space memory.Space) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if sp := x.spaces[space]; sp != nil {
		return sp.set.len()
	}
	return 0
}

// Trained reports whether space currently has clusters.
func (x *IVF) Trained(space memory.Space) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	sp := x.spaces[space]
	return sp != nil && sp.trained()
}

// nearest returns the index of the centroid most similar to vec.
func nearest(centroids [][]float32, vec []float32) int {
	best, bestSim := 0, math.Inf(-1)
	for i, c := range centroids {
		if sim := dot(c, vec); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best
}

// nearestClusters returns the n centroids most similar to query.
func nearestClusters(centroids [][]float32, query []float32, n int) []int {
	order := make([]int, len(centroids))
	sims := make([]float64, len(centroids))
	for i, c := range centroids {
		order[i] = i
		sims[i] = dot(c, query)
	}
	sort.Slice(order, func(a, b int) bool { return sims[order[a]] > sims[order[b]] })
	return order[:n]
}

// kmeans fits k spherical k-means centroids to vecs. The seed is fixed so
// training the same data twice yields the same clusters.
func kmeans(ctx context.Context, vecs [][]float32, k, iterations, sampleSize int) ([][]float32, error) {
	rng := rand.New(rand.NewSource(1))

	sample := vecs
	if sampleSize > 0 && len(vecs) > sampleSize {
		sample = make([][]float32, sampleSize)
		for i, j := range rng.Perm(len(vecs))[:sampleSize] {
			sample[i] = vecs[j]
		}
	}
	if k > len(sample) {
		k = len(sample)
	}

	centroids := make([][]float32, k)
	for i, j := range rng.Perm(len(sample))[:k] {
		centroids[i] = sample[j]
	}

	dims := len(sample[0])
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for _, v := range sample {
			c := nearest(centroids, v)
			if sums[c] == nil {
				sums[c] = make([]float64, dims)
			}
			for d, f := range v {
				sums[c][d] += float64(f)
			}
			counts[c]++
		}

		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			mean := make([]float32, dims)
			for d, s := range sums[c] {
				mean[d] = float32(s / float64(counts[c]))
			}
			if norm := normalize(mean); norm != nil {
				centroids[c] = norm
			}
		}
	}
	return centroids, nil
}
