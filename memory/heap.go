package memory

import (
	"github.com/rghisi/rosx-kernel/kernelerr"
)

// freeNodeRecordSize stands in for the size of the free-list node header
// the original embeds directly in freed memory (an address plus a next
// pointer). This allocator operates over a simulated address space rather
// than real mapped bytes, so nodes are kept as ordinary Go values; this
// constant only governs the padding/remainder-absorption thresholds
// described in the component design, so that behavior matches regardless
// of representation.
const freeNodeRecordSize = 16

// DefaultBlockReserve is the number of fully-empty blocks retained before
// returning chunks to the chunk allocator, damping allocation chatter at
// the block boundary.
const DefaultBlockReserve = 1

type freeNode struct {
	addr uint64
	size uint64
	next *freeNode
}

type block struct {
	base       uint64
	size       uint64
	chunkCount int
	free       *freeNode
	liveAllocs int
}

func (b *block) empty() bool { return b.liveAllocs == 0 }

// HeapAllocator is a block-of-chunks free-list allocator: it grows by
// requesting whole blocks from a ChunkAllocator and serves byte-
// granularity allocations from an address-ordered, coalescing free list
// within each block.
type HeapAllocator struct {
	chunks  *ChunkAllocator
	owner   Owner
	reserve int
	blocks  []*block
	sizeOf  map[uint64]uint64 // live allocation address -> requested size, for Free
}

// NewHeapAllocator builds a heap layered on chunks, with all blocks
// allocated under owner (typically KernelOwner() for the kernel's own
// general-purpose heap, or a task's owner for a per-task arena).
func NewHeapAllocator(chunks *ChunkAllocator, owner Owner) *HeapAllocator {
	return &HeapAllocator{
		chunks:  chunks,
		owner:   owner,
		reserve: DefaultBlockReserve,
		sizeOf:  make(map[uint64]uint64),
	}
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Allocate serves a byte-granular allocation of size with the given
// alignment (1 if unspecified), first-fit across existing blocks' free
// lists in address order, growing by one new block from the chunk
// allocator if nothing fits.
func (h *HeapAllocator) Allocate(size, align uint64) (uint64, error) {
	if size == 0 {
		return 0, kernelerr.New("memory.HeapAllocator.Allocate", kernelerr.NotFound, "zero-size allocation requested")
	}
	if align == 0 {
		align = 1
	}

	if ptr, ok := h.tryAllocateInBlocks(size, align); ok {
		return ptr, nil
	}

	if err := h.growByOneBlock(size); err != nil {
		return 0, err
	}
	if ptr, ok := h.tryAllocateInBlocks(size, align); ok {
		return ptr, nil
	}
	return 0, kernelerr.New("memory.HeapAllocator.Allocate", kernelerr.OutOfMemory, "no block can serve %d bytes", size)
}

func (h *HeapAllocator) tryAllocateInBlocks(size, align uint64) (uint64, bool) {
	for _, b := range h.blocks {
		var prev *freeNode
		for n := b.free; n != nil; n = n.next {
			alignedStart := alignUp(n.addr, align)
			padding := alignedStart - n.addr
			end := alignedStart + size
			if end > n.addr+n.size {
				prev = n
				continue
			}
			remainder := (n.addr + n.size) - end

			// unlink n
			if prev == nil {
				b.free = n.next
			} else {
				prev.next = n.next
			}

			if padding >= freeNodeRecordSize {
				h.insertFree(b, n.addr, padding)
			}
			stored := size
			if remainder >= freeNodeRecordSize {
				h.insertFree(b, end, remainder)
			} else {
				// too small for a node: absorbed into this allocation
				stored += remainder
			}

			b.liveAllocs++
			h.sizeOf[alignedStart] = stored
			return alignedStart, true
		}
	}
	return 0, false
}

func (h *HeapAllocator) growByOneBlock(minSize uint64) error {
	chunkSize := h.chunks.ChunkSize()
	need := chunksFor(minSize, chunkSize)
	if need < 1 {
		need = 1
	}
	base, n, err := h.chunks.Allocate(Layout{Size: uint64(need) * chunkSize, Align: chunkSize}, h.owner)
	if err != nil {
		return err
	}
	b := &block{base: base, size: uint64(n) * chunkSize, chunkCount: n}
	b.free = &freeNode{addr: base, size: b.size}
	h.blocks = append(h.blocks, b)
	return nil
}

// insertFree inserts a free node into b's address-ordered list, coalescing
// with the immediate predecessor and/or successor if they are adjacent.
func (h *HeapAllocator) insertFree(b *block, addr, size uint64) {
	var prev *freeNode
	cur := b.free
	for cur != nil && cur.addr < addr {
		prev = cur
		cur = cur.next
	}

	n := &freeNode{addr: addr, size: size, next: cur}
	if prev == nil {
		b.free = n
	} else {
		prev.next = n
	}

	// coalesce forward
	if n.next != nil && n.addr+n.size == n.next.addr {
		n.size += n.next.size
		n.next = n.next.next
	}
	// coalesce backward
	if prev != nil && prev.addr+prev.size == n.addr {
		prev.size += n.size
		prev.next = n.next
	}
}

func (h *HeapAllocator) blockFor(ptr uint64) *block {
	for _, b := range h.blocks {
		if ptr >= b.base && ptr < b.base+b.size {
			return b
		}
	}
	return nil
}

// Free returns the allocation at ptr to its block's free list, coalescing
// with adjacent free nodes, and reclaims the block's chunks once it is
// fully empty and more than reserve blocks are already empty.
func (h *HeapAllocator) Free(ptr uint64) error {
	size, ok := h.sizeOf[ptr]
	if !ok {
		return kernelerr.New("memory.HeapAllocator.Free", kernelerr.NotFound, "address %#x is not a live allocation", ptr)
	}
	b := h.blockFor(ptr)
	if b == nil {
		return kernelerr.New("memory.HeapAllocator.Free", kernelerr.NotFound, "address %#x not in any block", ptr)
	}
	delete(h.sizeOf, ptr)
	h.insertFree(b, ptr, size)
	b.liveAllocs--

	h.reclaimExcessEmptyBlocks()
	return nil
}

func (h *HeapAllocator) reclaimExcessEmptyBlocks() {
	emptyIdx := make([]int, 0, len(h.blocks))
	for i, b := range h.blocks {
		if b.empty() {
			emptyIdx = append(emptyIdx, i)
		}
	}
	excess := len(emptyIdx) - h.reserve
	if excess <= 0 {
		return
	}

	toRemove := make(map[int]bool, excess)
	for _, i := range emptyIdx[:excess] {
		b := h.blocks[i]
		_ = h.chunks.Deallocate(b.base, b.chunkCount)
		toRemove[i] = true
	}

	kept := h.blocks[:0]
	for i, b := range h.blocks {
		if !toRemove[i] {
			kept = append(kept, b)
		}
	}
	h.blocks = kept
}

// LiveAllocations reports the number of outstanding (unfreed) allocations,
// for tests asserting non-overlap/leak-freedom.
func (h *HeapAllocator) LiveAllocations() int {
	return len(h.sizeOf)
}

// Contains reports whether ptr is currently a live allocation in this
// heap, letting a caller juggling several per-owner heaps (one per task
// plus the kernel's own) find the right one to Free against.
func (h *HeapAllocator) Contains(ptr uint64) bool {
	_, ok := h.sizeOf[ptr]
	return ok
}
