// Package phash provides the perceptual image fingerprint used to
// decide whether two blobs show the same picture. Contract: DHash is a
// similarity-preserving 64-bit fingerprint; two images are considered
// the same picture when Distance(a, b) <= 5.
package phash

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"

	"golang.org/x/image/draw"
)

// scale is the fingerprint grid width; the hash compares horizontal
// neighbors on a (scale+1) x scale grayscale thumbnail.
const scale = 8

// DHash computes the 64-bit difference hash of a decoded image.
func DHash(img image.Image) uint64 {
	thumb := image.NewGray(image.Rect(0, 0, scale+1, scale))
	draw.BiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	var hash uint64
	bit := 0
	for x := 0; x < scale; x++ {
		for y := 0; y < scale; y++ {
			if thumb.GrayAt(x, y).Y > thumb.GrayAt(x+1, y).Y {
				hash |= 1 << bit
			}
			bit++
		}
	}
	return hash
}

// BlobDHash decodes an image blob and fingerprints it.
func BlobDHash(blob []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return DHash(img), nil
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
