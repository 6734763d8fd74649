package task

import (
	"math/rand"
)

// Batcher groups records into single-type batches. Each epoch shuffles the
// records with a seed derived from the epoch index, splits them by type
// and shuffles the resulting batches, so the same seed always gives the
// same order.
type Batcher struct {
	records   []Record
	batchSize int
	seed      int64
	dropLast  bool
}

func NewBatcher(records []Record, batchSize int, seed int64, dropLast bool) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Batcher{records: records, batchSize: batchSize, seed: seed, dropLast: dropLast}
}

// Len returns the number of batches per epoch. It does not depend on the
// shuffle.
func (b *Batcher) Len() int {
	counts := make(map[Type]int)
	for _, r := range b.records {
		counts[r.Type]++
	}
	n := 0
	for _, c := range counts {
		n += c / b.batchSize
		if !b.dropLast && c%b.batchSize != 0 {
			n++
		}
	}
	return n
}

// Epoch returns the batches for the given epoch.
func (b *Batcher) Epoch(epoch int) []Batch {
	rng := rand.New(rand.NewSource(b.seed + int64(epoch)))
	idx := rng.Perm(len(b.records))

	byType := make(map[Type][]Record)
	var order []Type
	for _, i := range idx {
		r := b.records[i]
		if _, ok := byType[r.Type]; !ok {
			order = append(order, r.Type)
		}
		byType[r.Type] = append(byType[r.Type], r)
	}

	var batches []Batch
	for _, t := range order {
		recs := byType[t]
		for start := 0; start < len(recs); start += b.batchSize {
			end := min(start+b.batchSize, len(recs))
			if end-start < b.batchSize && b.dropLast {
				break
			}
			batches = append(batches, Batch(recs[start:end:end]))
		}
	}
	rng.Shuffle(len(batches), func(i, j int) { batches[i], batches[j] = batches[j], batches[i] })
	return batches
}
