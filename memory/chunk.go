// Package memory implements the kernel's two-tier allocator: a
// bitmap-indexed coarse ChunkAllocator over one or more physical memory
// ranges, and a byte-granularity free-list HeapAllocator layered on top of
// it.
package memory

import (
	"github.com/rghisi/rosx-kernel/kernelerr"
)

// DefaultChunkSize is the coarse allocation granularity used when a
// kernel config does not override it.
const DefaultChunkSize = 64 * 1024

// OwnerKind distinguishes kernel-owned chunks from task-owned ones.
type OwnerKind uint8

const (
	// OwnerKernelKind marks a chunk reserved or used by the kernel itself.
	OwnerKernelKind OwnerKind = iota
	// OwnerTaskKind marks a chunk allocated on behalf of a task.
	OwnerTaskKind
)

// Owner identifies who a chunk belongs to. Task identity is an opaque
// uint64 supplied by the caller (the kernel façade encodes its task
// handles into this field); this package never interprets it beyond
// equality comparison.
type Owner struct {
	Kind   OwnerKind
	TaskID uint64
}

// KernelOwner is the owner value chunks revert to on deallocation.
func KernelOwner() Owner { return Owner{Kind: OwnerKernelKind} }

// TaskOwner returns an owner value for the given opaque task identity.
func TaskOwner(id uint64) Owner { return Owner{Kind: OwnerTaskKind, TaskID: id} }

// Range describes one physical memory range handed to the allocator at
// boot, as received from the bootloader per the external interface
// contract.
type Range struct {
	Base uint64
	Size uint64
}

// Layout describes a requested allocation's size and alignment, mirroring
// the language-level allocator contract the heap allocator serves.
type Layout struct {
	Size  uint64
	Align uint64
}

// chunkMetadataBytesPerChunk approximates the per-chunk bookkeeping cost
// (one used-bit plus an owner record) used only to decide how many chunks
// of the first sufficiently large range are reserved for allocator
// metadata, per the region layout described in the component design.
const chunkMetadataBytesPerChunk = 2

type region struct {
	base       uint64
	chunkSize  uint64
	chunkCount int
	used       []bool
	owner      []Owner
}

func (r *region) contains(ptr uint64) bool {
	end := r.base + uint64(r.chunkCount)*r.chunkSize
	return ptr >= r.base && ptr < end
}

func (r *region) indexOf(ptr uint64) int {
	return int((ptr - r.base) / r.chunkSize)
}

// ChunkAllocator is a bitmap-indexed, first-fit coarse allocator with
// per-chunk ownership, suitable as the foundation for a byte-granularity
// heap on top.
type ChunkAllocator struct {
	chunkSize uint64
	regions   []*region
}

// NewChunkAllocator builds an allocator over the given ranges. Region
// metadata (the used-bitmap and owner array) is placed in the first range
// large enough to hold it; all other ranges contribute only chunks. A
// range too small to hold even one chunk contributes nothing.
func NewChunkAllocator(chunkSize uint64, ranges []Range) (*ChunkAllocator, error) {
	if chunkSize == 0 {
		return nil, kernelerr.New("memory.NewChunkAllocator", kernelerr.OutOfMemory, "chunk size must be nonzero")
	}

	chunkCounts := make([]int, len(ranges))
	totalChunks := 0
	for i, r := range ranges {
		c := int(r.Size / chunkSize)
		chunkCounts[i] = c
		totalChunks += c
	}

	metadataBytes := uint64(totalChunks) * chunkMetadataBytesPerChunk
	metaRegionIdx := -1
	metaReservedChunks := 0
	for i := range ranges {
		need := int(ceilDiv(metadataBytes, chunkSize))
		if chunkCounts[i] >= need {
			metaRegionIdx = i
			metaReservedChunks = need
			break
		}
	}
	if metaRegionIdx == -1 {
		return nil, kernelerr.New("memory.NewChunkAllocator", kernelerr.OutOfMemory, "no range large enough to hold allocator metadata")
	}

	ca := &ChunkAllocator{chunkSize: chunkSize}
	for i, r := range ranges {
		usable := chunkCounts[i]
		base := r.Base
		if i == metaRegionIdx {
			usable -= metaReservedChunks
			base += uint64(metaReservedChunks) * chunkSize
		}
		if usable <= 0 {
			continue
		}
		ca.regions = append(ca.regions, &region{
			base:       base,
			chunkSize:  chunkSize,
			chunkCount: usable,
			used:       make([]bool, usable),
			owner:      make([]Owner, usable),
		})
	}
	return ca, nil
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ChunkSize reports the allocator's fixed chunk granularity.
func (c *ChunkAllocator) ChunkSize() uint64 { return c.chunkSize }

// TotalChunks reports the sum of usable chunks across all regions.
func (c *ChunkAllocator) TotalChunks() int {
	n := 0
	for _, r := range c.regions {
		n += r.chunkCount
	}
	return n
}

// UsedChunks reports the number of chunks currently marked in use.
func (c *ChunkAllocator) UsedChunks() int {
	n := 0
	for _, r := range c.regions {
		for _, u := range r.used {
			if u {
				n++
			}
		}
	}
	return n
}

// FreeChunks reports TotalChunks - UsedChunks; the invariant
// used+free=total holds by construction since both are derived from the
// same per-chunk state.
func (c *ChunkAllocator) FreeChunks() int {
	return c.TotalChunks() - c.UsedChunks()
}

func chunksFor(size, chunkSize uint64) int {
	return int(ceilDiv(size, chunkSize))
}

// Allocate reserves a contiguous run of chunks large enough for layout,
// marks them owned by owner, and returns the base address of the run and
// how many chunks it spans. It returns an OutOfMemory kernelerr.Error if no
// region has a sufficiently long contiguous free run, and panics (a
// contract violation) if layout.Align exceeds the chunk size — the same
// assertion the original enforces, since chunk-granular allocation cannot
// honor an alignment coarser than its own granularity.
func (c *ChunkAllocator) Allocate(layout Layout, owner Owner) (uint64, int, error) {
	if layout.Align > c.chunkSize {
		kernelerr.Halt("chunk_size must be >= layout alignment")
	}
	if layout.Size == 0 {
		return 0, 0, kernelerr.New("memory.Allocate", kernelerr.NotFound, "zero-size allocation requested")
	}
	need := chunksFor(layout.Size, c.chunkSize)

	for _, r := range c.regions {
		if start, ok := firstFitRun(r.used, need); ok {
			for i := start; i < start+need; i++ {
				r.used[i] = true
				r.owner[i] = owner
			}
			return r.base + uint64(start)*c.chunkSize, need, nil
		}
	}
	return 0, 0, kernelerr.New("memory.Allocate", kernelerr.OutOfMemory, "no contiguous run of %d chunks available", need)
}

func firstFitRun(used []bool, need int) (int, bool) {
	run := 0
	for i, u := range used {
		if u {
			run = 0
			continue
		}
		run++
		if run == need {
			return i - need + 1, true
		}
	}
	return 0, false
}

func (c *ChunkAllocator) regionFor(ptr uint64) *region {
	for _, r := range c.regions {
		if r.contains(ptr) {
			return r
		}
	}
	return nil
}

// Deallocate clears the chunkCount chunks starting at ptr and resets their
// owner to Kernel.
func (c *ChunkAllocator) Deallocate(ptr uint64, chunkCount int) error {
	r := c.regionFor(ptr)
	if r == nil {
		return kernelerr.New("memory.Deallocate", kernelerr.NotFound, "address %#x not in any region", ptr)
	}
	start := r.indexOf(ptr)
	for i := start; i < start+chunkCount && i < len(r.used); i++ {
		r.used[i] = false
		r.owner[i] = KernelOwner()
	}
	return nil
}

// DeallocateByOwner frees every chunk currently owned by owner, returning
// the count freed. This is the mechanism that makes task-death resource
// reclaim possible: the kernel's task entry trampoline calls it once with
// the finished task's owner identity.
func (c *ChunkAllocator) DeallocateByOwner(owner Owner) int {
	freed := 0
	for _, r := range c.regions {
		for i := range r.used {
			if r.used[i] && r.owner[i] == owner {
				r.used[i] = false
				r.owner[i] = KernelOwner()
				freed++
			}
		}
	}
	return freed
}

// TransferToTask reassigns ownership of an already-allocated run without
// touching its used bits.
func (c *ChunkAllocator) TransferToTask(ptr uint64, chunkCount int, newOwner Owner) error {
	r := c.regionFor(ptr)
	if r == nil {
		return kernelerr.New("memory.TransferToTask", kernelerr.NotFound, "address %#x not in any region", ptr)
	}
	start := r.indexOf(ptr)
	for i := start; i < start+chunkCount && i < len(r.owner); i++ {
		r.owner[i] = newOwner
	}
	return nil
}
