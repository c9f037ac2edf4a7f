// Package pixel unpacks single pixels from camera buffers.
package pixel

// Gray returns the value of a grayscale-doubled pixel. The second byte is padding.
func Gray(px []byte) uint8 {
	return px[0]
}

// RGB565ToGray converts a packed RGB565 pixel to luma with the ITU-R 601-2 weights,
// rounded to nearest. Each channel keeps its bits in the top of an 8-bit slot; the low
// bits stay zero, which is what the deployed model was calibrated against.
func RGB565ToGray(b0, b1 byte) uint8 {
	r := b0 & 0xF8
	g := b0<<5 | (b1&0xE0)>>3
	b := (b1 & 0x1F) << 3

	return uint8(float32(r)*299/1000 + float32(g)*587/1000 + float32(b)*114/1000 + 0.5)
}

// Bias centers a gray value on zero the way the network was trained.
func Bias(gray uint8) int8 {
	return int8(gray - 128)
}

// PackBiased repeats the biased value in the three low byte lanes of an input word.
func PackBiased(gray uint8) uint32 {
	v := uint32(uint8(Bias(gray)))
	return 0x00FFFFFF & (v<<16 | v<<8 | v)
}

// PackRGB565 packs 8-bit channels into the two-byte layout the camera produces.
func PackRGB565(r, g, b uint8) (byte, byte) {
	b0 := r&0xF8 | g>>5
	b1 := (g<<3)&0xE0 | b>>3
	return b0, b1
}
