// Package setrecon implements rateless set reconciliation: an encoder
// streams XOR-coded symbols over a set of content-addressed hashes, and a
// decoder seeded with its own set peels those symbols one at a time until
// it has recovered the full symmetric difference between the two sets,
// without either side ever transmitting the sets themselves.
//
// The construction is an invertible-Bloom-lookup-table-style coded symbol:
// each symbol carries a signed element count, the XOR of every element's
// raw hash assigned to that cell, and an FNV-1a checksum used to confirm a
// cell has peeled to a genuine single element rather than an accidental
// higher-order cancellation. Cells are organised into doubling
// "generations" - if a table of a given size cannot be fully peeled, the
// encoder (obliviously) moves on to a larger one, giving the exchange an
// unbounded, rateless character without either side pre-agreeing on a
// table size.
package setrecon

import (
	"hash/fnv"

	"asc.dev/asc/hash"
)

// bucketsPerElement is how many cells each element is assigned to within a
// generation's table, the standard IBLT redundancy factor.
const bucketsPerElement = 3

// baseCells is the table size of generation zero; each later generation
// doubles it.
const baseCells = 8

func cellsForGeneration(gen int) int {
	size := baseCells
	for i := 0; i < gen; i++ {
		size *= 2
	}
	return size
}

func checksumOf(h hash.ObjectHash) uint64 {
	f := fnv.New64a()
	f.Write(h.Bytes())
	return f.Sum64()
}

func xorInto(dst *hash.ObjectHash, h hash.ObjectHash) {
	for i := range dst {
		dst[i] ^= h[i]
	}
}

func bucketsFor(h hash.ObjectHash, cells int) [bucketsPerElement]int {
	var out [bucketsPerElement]int
	for k := 0; k < bucketsPerElement; k++ {
		f := fnv.New64a()
		f.Write(h.Bytes())
		f.Write([]byte{byte(k)})
		out[k] = int(f.Sum64() % uint64(cells))
	}
	return out
}

func touchesCell(h hash.ObjectHash, cells, idx int) bool {
	for _, b := range bucketsFor(h, cells) {
		if b == idx {
			return true
		}
	}
	return false
}

// Symbol is one coded cell, sent over the wire in sequence by the encoder.
type Symbol struct {
	Generation int             `msgpack:"generation"`
	Index      int             `msgpack:"index"`
	Count      int64           `msgpack:"count"`
	XorHash    hash.ObjectHash `msgpack:"xor_hash"`
	Checksum   uint64          `msgpack:"checksum"`
}

// Encoder streams coded symbols over a fixed set of hashes.
type Encoder struct {
	elements map[hash.ObjectHash]struct{}
	gen      int
	idx      int
}

// NewEncoder creates an Encoder over the given hash set.
func NewEncoder(elements []hash.ObjectHash) *Encoder {
	e := &Encoder{elements: make(map[hash.ObjectHash]struct{}, len(elements))}
	for _, h := range elements {
		e.elements[h] = struct{}{}
	}
	return e
}

// Next returns the next coded symbol in the stream. Once a generation's
// table is exhausted, Next silently advances to a larger one - the caller
// does not need to know the set sizes on either side in advance.
func (e *Encoder) Next() Symbol {
	size := cellsForGeneration(e.gen)
	if e.idx >= size {
		e.gen++
		e.idx = 0
		size = cellsForGeneration(e.gen)
	}

	sym := Symbol{Generation: e.gen, Index: e.idx}
	for h := range e.elements {
		if touchesCell(h, size, e.idx) {
			sym.Count++
			xorInto(&sym.XorHash, h)
			sym.Checksum ^= checksumOf(h)
		}
	}
	e.idx++
	return sym
}

type cellDiff struct {
	count    int64
	xorHash  hash.ObjectHash
	checksum uint64
}

// Decoder accumulates coded symbols from a peer's Encoder, peeling out the
// symmetric difference against its own seeded hash set.
type Decoder struct {
	elements map[hash.ObjectHash]struct{}

	gen      int
	size     int
	table    map[int]*cellDiff
	received int

	localOnly  map[hash.ObjectHash]struct{}
	remoteOnly map[hash.ObjectHash]struct{}
}

// NewDecoder creates a Decoder seeded with the local side's own hash set -
// the set whose difference from the peer's (encoded) set is being sought.
func NewDecoder(elements []hash.ObjectHash) *Decoder {
	d := &Decoder{
		elements:   make(map[hash.ObjectHash]struct{}, len(elements)),
		table:      make(map[int]*cellDiff),
		localOnly:  make(map[hash.ObjectHash]struct{}),
		remoteOnly: make(map[hash.ObjectHash]struct{}),
	}
	for _, h := range elements {
		d.elements[h] = struct{}{}
	}
	return d
}

func (d *Decoder) seedCell(idx int) *cellDiff {
	if cell, ok := d.table[idx]; ok {
		return cell
	}
	cell := &cellDiff{}
	for h := range d.elements {
		if touchesCell(h, d.size, idx) {
			cell.count--
			xorInto(&cell.xorHash, h)
			cell.checksum ^= checksumOf(h)
		}
	}
	d.table[idx] = cell
	return cell
}

// AddSymbol folds one coded symbol from the peer's encoder into the
// decoder's working table, re-peeling afterward.
func (d *Decoder) AddSymbol(sym Symbol) {
	if sym.Generation != d.gen || d.table == nil {
		d.gen = sym.Generation
		d.size = cellsForGeneration(d.gen)
		d.table = make(map[int]*cellDiff)
	}

	cell := d.seedCell(sym.Index)
	cell.count += sym.Count
	xorInto(&cell.xorHash, sym.XorHash)
	cell.checksum ^= sym.Checksum
	d.received++

	d.peel()
}

func (d *Decoder) peel() {
	var zero hash.ObjectHash
	progress := true
	for progress {
		progress = false
		for idx, cell := range d.table {
			switch {
			case cell.count == 0 && cell.xorHash == zero:
				delete(d.table, idx)
				progress = true

			case (cell.count == 1 || cell.count == -1) && checksumOf(cell.xorHash) == cell.checksum:
				h := cell.xorHash
				isRemoteOnly := cell.count == 1
				if isRemoteOnly {
					d.remoteOnly[h] = struct{}{}
				} else {
					d.localOnly[h] = struct{}{}
				}
				delete(d.table, idx)
				d.subtract(h, isRemoteOnly)
				progress = true
			}
		}
	}
}

// subtract removes a resolved element's contribution from every other cell
// in the current table it touches, so peeling can cascade.
func (d *Decoder) subtract(h hash.ObjectHash, isRemoteOnly bool) {
	for _, b := range bucketsFor(h, d.size) {
		cell, ok := d.table[b]
		if !ok {
			continue
		}
		if isRemoteOnly {
			cell.count--
		} else {
			cell.count++
		}
		xorInto(&cell.xorHash, h)
		cell.checksum ^= checksumOf(h)
	}
}

// IsDone reports whether every cell introduced so far has been fully
// peeled - i.e. the symmetric difference is completely known.
func (d *Decoder) IsDone() bool {
	return d.received > 0 && len(d.table) == 0
}

// Consume returns the recovered symmetric difference: localOnly are hashes
// this decoder has that the encoder's side lacks, remoteOnly are hashes the
// encoder's side has that this decoder lacks.
func (d *Decoder) Consume() (localOnly, remoteOnly []hash.ObjectHash) {
	for h := range d.localOnly {
		localOnly = append(localOnly, h)
	}
	for h := range d.remoteOnly {
		remoteOnly = append(remoteOnly, h)
	}
	return localOnly, remoteOnly
}
