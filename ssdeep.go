// MIT License
//
// portions Copyright (c) 2017 Lukas Rist
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package icontools

import (
	"strconv"
	"strings"

	"github.com/go-errors/errors"
)

const (
	rollingWindow = 7
	blockMin      = 3
	spamSumLength = 64
	// groups smaller than this get no fuzzy hash
	minFileSize = 4096

	hashPrime uint32 = 0x01000193
	hashInit  uint32 = 0x28021967
	b64              = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

var (
	errShortInput     = errors.Errorf("not enough data")
	errBlockSizeUnder = errors.Errorf("block too small")
)

// rollingHash is the Adler-32 style rolling checksum over the last
// rollingWindow bytes that decides where a piece ends.
type rollingHash struct {
	window     [rollingWindow]byte
	h1, h2, h3 uint32
	n          int
}

func (r *rollingHash) roll(c byte) uint32 {
	r.h2 -= r.h1
	r.h2 += rollingWindow * uint32(c)
	r.h1 += uint32(c)
	r.h1 -= uint32(r.window[r.n])
	r.window[r.n] = c
	r.n = (r.n + 1) % rollingWindow
	r.h3 = (r.h3 << 5) ^ uint32(c)
	return r.h1 + r.h2 + r.h3
}

func fnv(h uint32, c byte) uint32 {
	return (h * hashPrime) ^ uint32(c)
}

// piecewise accumulates the two signatures for one block size: one with
// pieces ending every blockSize, one every 2*blockSize on average.
type piecewise struct {
	blockSize  int
	rolling    rollingHash
	sum        uint32
	piece1     uint32
	piece2     uint32
	signature1 strings.Builder
	signature2 strings.Builder
}

func newPiecewise(blockSize int) *piecewise {
	return &piecewise{
		blockSize: blockSize,
		piece1:    hashInit,
		piece2:    hashInit,
	}
}

func (p *piecewise) write(data []byte) {
	for _, c := range data {
		p.piece1 = fnv(p.piece1, c)
		p.piece2 = fnv(p.piece2, c)
		p.sum = p.rolling.roll(c)

		rh := int(p.sum)
		if rh%p.blockSize != p.blockSize-1 {
			continue
		}
		if p.signature1.Len() < spamSumLength-1 {
			p.signature1.WriteByte(b64[p.piece1%64])
			p.piece1 = hashInit
		}
		if rh%(p.blockSize*2) == p.blockSize*2-1 && p.signature2.Len() < spamSumLength/2-1 {
			p.signature2.WriteByte(b64[p.piece2%64])
			p.piece2 = hashInit
		}
	}
}

func (p *piecewise) String() string {
	signature1, signature2 := p.signature1.String(), p.signature2.String()
	if p.sum != 0 {
		// the trailing partial piece
		signature1 += string(b64[p.piece1%64])
		signature2 += string(b64[p.piece2%64])
	}
	return strconv.Itoa(p.blockSize) + ":" + signature1 + ":" + signature2
}

// initialBlockSize is the smallest blockMin * 2^k for which spamSumLength
// pieces cover n bytes.
func initialBlockSize(n int) int {
	blockSize := blockMin
	for blockSize*spamSumLength < n {
		blockSize *= 2
	}
	return blockSize
}

// ssdeep computes the context triggered piecewise hash of data, halving the
// block size until the first signature is long enough.
func ssdeep(data []byte) (string, error) {
	if len(data) < minFileSize {
		return "", errShortInput
	}
	for blockSize := initialBlockSize(len(data)); blockSize >= blockMin; blockSize /= 2 {
		hash := newPiecewise(blockSize)
		hash.write(data)
		if hash.signature1.Len() >= spamSumLength/2 {
			return hash.String(), nil
		}
	}
	return "", errBlockSizeUnder
}
