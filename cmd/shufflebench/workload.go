package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/dataflowlab/shuffle/internal/config/dto"
	"github.com/dataflowlab/shuffle/internal/memory"
	"github.com/dataflowlab/shuffle/internal/partition"
	pkgpartition "github.com/dataflowlab/shuffle/pkg/partition"
)

// payloadHeaderSize is the prefix of every produced payload: partition
// index and sequence number, both big-endian uint32. The consumer uses
// it to verify replay order.
const payloadHeaderSize = 8

// runWorkload produces the configured number of buffers into every
// partition, finishes them, and then drains each partition through a
// reader, verifying that buffers come back complete and in append order.
func runWorkload(
	ctx context.Context,
	cfg dto.WorkloadConfig,
	partitions *partition.Manager,
	pool *memory.Pool,
	logger *slog.Logger,
) error {
	if cfg.PayloadBytes < payloadHeaderSize {
		return fmt.Errorf("payload_bytes must be at least %d, got %d", payloadHeaderSize, cfg.PayloadBytes)
	}

	start := time.Now()

	// Produce phase
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Partitions; i++ {
		g.Go(func() error {
			return produce(gctx, partitions.GetOrCreate(i), pool, cfg)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("produce phase failed: %w", err)
	}

	logger.Info("produce phase complete",
		"partitions", cfg.Partitions,
		"buffers_per_partition", cfg.BuffersPerPartition,
		"elapsed", time.Since(start),
	)

	// Consume phase
	var totalBytes atomic.Int64
	g, gctx = errgroup.WithContext(ctx)
	for i := 0; i < cfg.Partitions; i++ {
		g.Go(func() error {
			p, ok := partitions.Get(i)
			if !ok {
				return fmt.Errorf("partition %d missing after produce phase", i)
			}
			n, err := consume(gctx, p, cfg)
			totalBytes.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("consume phase failed: %w", err)
	}

	logger.Info("workload complete",
		"partitions", cfg.Partitions,
		"total_data", humanize.IBytes(uint64(totalBytes.Load())),
		"elapsed", time.Since(start),
	)
	return nil
}

// produce appends cfg.BuffersPerPartition sequenced payloads to p and
// finishes it. With ForceSpill set it surrenders the partition's memory
// halfway through, so the second half of the appends goes to disk.
func produce(ctx context.Context, p *partition.Partition, pool *memory.Pool, cfg dto.WorkloadConfig) error {
	for seq := 0; seq < cfg.BuffersPerPartition; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cfg.ForceSpill && seq == cfg.BuffersPerPartition/2 {
			if _, err := p.ReleaseMemory(); err != nil {
				return fmt.Errorf("partition %d: forced spill: %w", p.Index(), err)
			}
		}

		b, err := pool.Request()
		if err != nil {
			return fmt.Errorf("partition %d: segment request: %w", p.Index(), err)
		}

		segment := b.Segment()
		binary.BigEndian.PutUint32(segment[0:4], uint32(p.Index()))
		binary.BigEndian.PutUint32(segment[4:8], uint32(seq))
		for i := payloadHeaderSize; i < cfg.PayloadBytes; i++ {
			segment[i] = byte(seq)
		}
		b.SetSize(cfg.PayloadBytes)

		if _, err := p.Append(b); err != nil {
			return fmt.Errorf("partition %d: append: %w", p.Index(), err)
		}
	}

	if err := p.Finish(); err != nil {
		return fmt.Errorf("partition %d: finish: %w", p.Index(), err)
	}
	return nil
}

// consume attaches a reader to p and drains it to the end-of-partition
// marker, verifying sequence numbers. It returns the number of payload
// bytes read.
func consume(ctx context.Context, p *partition.Partition, cfg dto.WorkloadConfig) (int64, error) {
	available := make(chan struct{}, 1)
	reader, err := p.CreateReader(func() {
		select {
		case available <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return 0, fmt.Errorf("partition %d: create reader: %w", p.Index(), err)
	}
	defer reader.ReleaseAllResources()

	var bytesRead int64
	next := 0
	for {
		if err := ctx.Err(); err != nil {
			return bytesRead, err
		}

		item, err := reader.Next()
		if err != nil {
			return bytesRead, fmt.Errorf("partition %d: read: %w", p.Index(), err)
		}
		if item == nil {
			// The partition is finished, so a nil result only means a
			// replay swap is in flight. Wait for availability.
			select {
			case <-available:
			case <-ctx.Done():
				return bytesRead, ctx.Err()
			}
			continue
		}

		if done, err := verify(p.Index(), item, &next); err != nil {
			item.Buffer.Recycle()
			return bytesRead, err
		} else if done {
			item.Buffer.Recycle()
			break
		}

		bytesRead += int64(item.Buffer.Size())
		item.Buffer.Recycle()
	}

	if next != cfg.BuffersPerPartition {
		return bytesRead, fmt.Errorf("partition %d: drained %d buffers, want %d", p.Index(), next, cfg.BuffersPerPartition)
	}
	return bytesRead, nil
}

// verify checks one drained buffer against the expected sequence. It
// reports true when the end-of-partition marker arrives.
func verify(index int, item *pkgpartition.BufferAndBacklog, next *int) (bool, error) {
	b := item.Buffer
	if b.IsEndOfPartition() {
		return true, nil
	}
	if !b.IsData() {
		return false, fmt.Errorf("partition %d: unexpected event buffer before end of partition", index)
	}

	payload := b.Bytes()
	if len(payload) < payloadHeaderSize {
		return false, fmt.Errorf("partition %d: short payload of %d bytes", index, len(payload))
	}
	gotIndex := int(binary.BigEndian.Uint32(payload[0:4]))
	gotSeq := int(binary.BigEndian.Uint32(payload[4:8]))
	if gotIndex != index {
		return false, fmt.Errorf("partition %d: buffer belongs to partition %d", index, gotIndex)
	}
	if gotSeq != *next {
		return false, fmt.Errorf("partition %d: sequence %d out of order, want %d", index, gotSeq, *next)
	}
	*next++
	return false, nil
}
