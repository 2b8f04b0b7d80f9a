package counters

import (
	"context"
	"sort"
	"strings"

	"tibridge/internal/store"
)

const overlapSampleSize = 10

// Overlap compares the live observation namespaces.
type Overlap struct {
	Local  int64    `json:"local"`
	OSINT  int64    `json:"osint"`
	Both   int64    `json:"both"`
	Sample []string `json:"sample"`
}

// Overlap walks the local namespace page by page and checks each address
// against the OSINT namespace. Keys that expire mid-walk may be missed or
// counted on one side only.
func (m *Maintainer) Overlap(ctx context.Context, pageSize int64) (Overlap, error) {
	report := Overlap{Sample: []string{}}

	osint, err := m.countPrefix(ctx, store.KeyOSINTPrefix, pageSize)
	if err != nil {
		return Overlap{}, err
	}
	report.OSINT = osint

	var cursor uint64
	for {
		next, keys, err := m.store.Scan(ctx, store.KeyLocalPrefix, cursor, pageSize)
		if err != nil {
			return Overlap{}, err
		}
		for _, key := range keys {
			report.Local++
			address := strings.TrimPrefix(key, store.KeyLocalPrefix)
			found, err := m.store.Exists(ctx, store.OSINTKey(address))
			if err != nil {
				return Overlap{}, err
			}
			if !found {
				continue
			}
			report.Both++
			if len(report.Sample) < overlapSampleSize {
				report.Sample = append(report.Sample, address)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	sort.Strings(report.Sample)
	return report, nil
}

func (m *Maintainer) countPrefix(ctx context.Context, prefix string, pageSize int64) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		next, keys, err := m.store.Scan(ctx, prefix, cursor, pageSize)
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
